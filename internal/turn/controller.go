// Package turn sequences one conversational turn at a time: record the
// user's question, relay it, apply the reader's actions to the spread and
// speak the answer while the avatar's mouth follows the audio.
//
// The [Controller] owns the only mutable conversation state. Starting a new
// recording at any point supersedes whatever came before it: playback is cut
// and the mouth forced to rest, and a reply still in flight becomes stale.
// A stale reply is merged into the history but never played.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/cartomancer/internal/avatar"
	"github.com/MrWong99/cartomancer/internal/history"
	"github.com/MrWong99/cartomancer/internal/mouth"
	"github.com/MrWong99/cartomancer/internal/playback"
	"github.com/MrWong99/cartomancer/internal/recorder"
	"github.com/MrWong99/cartomancer/internal/relay"
	"github.com/MrWong99/cartomancer/internal/tarot"
	"github.com/MrWong99/cartomancer/pkg/audio"
)

var (
	// ErrNotRecording is returned by [Controller.StopRecording] outside the
	// Recording state.
	ErrNotRecording = errors.New("turn: not recording")

	// ErrClosed is returned after [Controller.Close].
	ErrClosed = errors.New("turn: controller closed")
)

// Recorder captures the user's utterance.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*recorder.Utterance, error)
}

// Player starts reply playback.
type Player interface {
	Play(ctx context.Context, buf *audio.Buffer) *playback.Session
}

// Animator moves the mouth along with a playing signal.
type Animator interface {
	Attach(sig mouth.Signal)
	Detach()
}

// Config holds the controller's collaborators. All fields except Credential
// are required.
type Config struct {
	Recorder Recorder
	Relay    relay.Submitter
	Player   Player
	Animator Animator
	Avatar   avatar.Sink
	Spread   tarot.Spread
	History  *history.Store

	// Credential returns the API key to submit with each turn. It is read at
	// submission time so a key entered mid-session takes effect.
	Credential func() string
}

// Result describes how a turn ended.
type Result struct {
	TurnID        uint64
	Transcription string
	Reply         string
	Actions       []tarot.Action

	// ActionErrors holds one error per action the spread refused.
	ActionErrors []error

	// Dropped counts function calls the relay could not parse.
	Dropped int

	// Stale is set when a newer turn started before this reply arrived. The
	// history was updated; nothing else was.
	Stale bool

	// Speaking is set when reply playback started.
	Speaking bool
}

// Controller is the conversation state machine. It is safe for concurrent
// use; its lock is never held across the relay round trip.
type Controller struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	turnID   uint64
	session  *playback.Session
	closed   bool
	onState  []func(from, to State)
	onError  []func(error)
	deferred []func()
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if cfg.Relay == nil {
		errs = append(errs, errors.New("relay is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.Animator == nil {
		errs = append(errs, errors.New("animator is required"))
	}
	if cfg.Avatar == nil {
		errs = append(errs, errors.New("avatar sink is required"))
	}
	if cfg.Spread == nil {
		errs = append(errs, errors.New("spread is required"))
	}
	if cfg.History == nil {
		errs = append(errs, errors.New("history store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	if cfg.Credential == nil {
		cfg.Credential = func() string { return "" }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{cfg: cfg, ctx: ctx, cancel: cancel, state: Idle}, nil
}

// OnStateChange registers fn to be called after every state change. Callbacks
// run outside the controller's lock, in registration order.
func (c *Controller) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnError registers fn to be called with every error a turn ends in.
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TurnID returns the identifier of the most recent turn.
func (c *Controller) TurnID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnID
}

// StartRecording begins a new turn. Playback in progress is stopped and the
// mouth forced to rest; a turn awaiting its reply becomes stale. If the
// device cannot be opened the controller returns to Idle and the error
// matches [recorder.ErrDeviceUnavailable].
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.teardownPlaybackLocked()
	c.turnID++
	c.cfg.Avatar.SetParameter(avatar.EyesParam, avatar.EyesIdle)

	if err := c.cfg.Recorder.Start(ctx); err != nil {
		err = fmt.Errorf("turn: start recording: %w", err)
		c.setStateLocked(Idle)
		c.reportLocked(err)
		c.unlockAndNotify()
		return err
	}
	c.setStateLocked(Recording)
	slog.Debug("turn: recording", "turn", c.turnID)
	c.unlockAndNotify()
	return nil
}

// StopRecording ends the recording, relays it and applies the reply. It
// blocks for the relay round trip.
//
// The history gains the user and assistant messages whenever a reply
// arrives, stale or not. A stale reply returns a Result with Stale set and
// leaves everything else alone. A reply whose audio cannot be decoded still
// applies its actions and returns the Result together with the
// *wav.DecodeError.
func (c *Controller) StopRecording(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state != Recording {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}

	id := c.turnID
	c.setStateLocked(Thinking)
	c.cfg.Avatar.SetParameter(avatar.EyesParam, avatar.EyesThinking)

	utt, err := c.cfg.Recorder.Stop()
	if err == nil && utt == nil {
		err = errors.New("no active recording")
	}
	if err != nil {
		err = fmt.Errorf("turn: stop recording: %w", err)
		c.failLocked(id, err)
		c.unlockAndNotify()
		return nil, err
	}
	snapshot := c.cfg.History.Messages()
	c.unlockAndNotify()

	resp, err := c.cfg.Relay.Submit(ctx, relay.Request{
		Audio:      utt.Bytes(),
		History:    snapshot,
		Credential: c.cfg.Credential(),
		TurnID:     id,
	})
	if err != nil {
		err = fmt.Errorf("turn: submit: %w", err)
		c.mu.Lock()
		c.failLocked(id, err)
		c.unlockAndNotify()
		return nil, err
	}

	c.cfg.History.AppendTurn(resp.Transcription, resp.Reply, resp.FirstCall())

	res := &Result{
		TurnID:        id,
		Transcription: resp.Transcription,
		Reply:         resp.Reply,
		Actions:       resp.Actions,
		Dropped:       resp.Dropped,
	}

	c.mu.Lock()
	if c.closed || id != c.turnID {
		c.mu.Unlock()
		slog.Debug("turn: stale reply merged into history", "turn", id)
		res.Stale = true
		return res, nil
	}

	res.ActionErrors = tarot.Dispatch(c.cfg.Spread, resp.Actions)
	for _, aerr := range res.ActionErrors {
		slog.Warn("turn: spread rejected action", "turn", id, "err", aerr)
	}
	c.cfg.Avatar.SetParameter(avatar.EyesParam, avatar.EyesIdle)

	var audioErr error
	switch {
	case resp.AudioErr != nil:
		audioErr = fmt.Errorf("turn: reply audio: %w", resp.AudioErr)
		c.reportLocked(audioErr)
		c.setStateLocked(Idle)
	case resp.Audio != nil && resp.Audio.Frames() > 0:
		sess := c.cfg.Player.Play(c.ctx, resp.Audio)
		c.session = sess
		c.cfg.Animator.Attach(sess)
		c.setStateLocked(Speaking)
		res.Speaking = true
		go c.watchPlayback(id, sess)
	default:
		c.setStateLocked(Idle)
	}
	c.unlockAndNotify()
	return res, audioErr
}

// Interrupt cuts the current turn short and returns to Idle. Playback stops
// with the mouth at rest, a recording is discarded and a reply in flight
// becomes stale.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownPlaybackLocked()
	switch c.state {
	case Recording:
		if _, err := c.cfg.Recorder.Stop(); err != nil {
			slog.Warn("turn: discard recording", "err", err)
		}
		c.turnID++
	case Thinking:
		c.turnID++
	}
	c.cfg.Avatar.SetParameter(avatar.EyesParam, avatar.EyesIdle)
	c.setStateLocked(Idle)
	c.unlockAndNotify()
}

// Close stops everything and releases the collaborators. Later calls return
// [ErrClosed]; a reply still in flight is merged into the history only.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.teardownPlaybackLocked()
	if c.state == Recording {
		if _, err := c.cfg.Recorder.Stop(); err != nil {
			slog.Warn("turn: discard recording", "err", err)
		}
	}
	c.turnID++
	c.setStateLocked(Idle)
	c.closed = true
	c.cancel()
	c.unlockAndNotify()
	return nil
}

func (c *Controller) watchPlayback(id uint64, sess *playback.Session) {
	<-sess.Done()

	c.mu.Lock()
	if c.session == sess {
		c.session = nil
		if err := sess.Err(); err != nil {
			c.reportLocked(fmt.Errorf("turn: playback: %w", err))
		}
		if c.state == Speaking && c.turnID == id {
			c.setStateLocked(Idle)
		}
	}
	c.unlockAndNotify()
}

// teardownPlaybackLocked stops the current session and rests the mouth.
// Must be called with c.mu held.
func (c *Controller) teardownPlaybackLocked() {
	if c.session == nil {
		return
	}
	c.session.Stop()
	c.cfg.Animator.Detach()
	c.session = nil
}

// failLocked returns to Idle after a failed turn unless a newer turn has
// taken over. Must be called with c.mu held.
func (c *Controller) failLocked(id uint64, err error) {
	if id == c.turnID && !c.closed {
		c.cfg.Avatar.SetParameter(avatar.EyesParam, avatar.EyesIdle)
		c.setStateLocked(Idle)
	}
	c.reportLocked(err)
}

// setStateLocked changes state and queues the observers. Must be called
// with c.mu held.
func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	if !ValidTransition(from, to) {
		slog.Error("turn: invalid state transition", "from", from, "to", to)
	}
	c.state = to
	for _, fn := range c.onState {
		c.deferred = append(c.deferred, func() { fn(from, to) })
	}
}

// reportLocked queues err for the error observers. Must be called with c.mu
// held.
func (c *Controller) reportLocked(err error) {
	slog.Warn("turn: failed", "err", err)
	for _, fn := range c.onError {
		c.deferred = append(c.deferred, func() { fn(err) })
	}
}

// unlockAndNotify releases c.mu and runs the observers queued under it.
func (c *Controller) unlockAndNotify() {
	fns := c.deferred
	c.deferred = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
