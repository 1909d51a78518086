// Package recorder captures one utterance per turn from an audio input
// device.
//
// A [Recorder] owns at most one capture session. [Recorder.Start] opens the
// [Device] and collects its frames into ordered chunks; [Recorder.Stop] ends
// the session and returns the finalized [Utterance], encoded as WAV and ready
// to ship to the relay.
//
//	rec := recorder.New(dev)
//	if err := rec.Start(ctx); err != nil { ... }
//	...
//	utt, err := rec.Stop()
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cartomancer/pkg/audio"
)

// ErrDeviceUnavailable is returned by [Recorder.Start] when the input device
// cannot be opened (permission denied, no hardware, unreadable file).
var ErrDeviceUnavailable = errors.New("recorder: audio input device unavailable")

const (
	defaultFlushInterval = time.Second
	defaultDrainTimeout  = 2 * time.Second
)

// Constraints is the capture format requested from a [Device].
type Constraints struct {
	SampleRate int
	Channels   int
}

// DefaultConstraints requests mono 16 kHz speech capture.
func DefaultConstraints() Constraints {
	return Constraints{SampleRate: 16000, Channels: 1}
}

// Format returns c as an [audio.Format].
func (c Constraints) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Device opens capture streams.
type Device interface {
	// Open starts capturing. ctx bounds the open itself; the stream lives
	// until Close.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is one open capture session on a [Device].
type Stream interface {
	// Format reports the format the device actually delivers. Frames that
	// deviate from the requested [Constraints] are converted by the recorder.
	Format() audio.Format

	// Frames returns the channel of captured frames. The device closes it
	// after Close once every buffered frame has been delivered.
	Frames() <-chan audio.AudioFrame

	// Close stops capture and releases the device.
	Close() error
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithFlushInterval sets how often captured audio is cut into a chunk.
// Non-positive values are ignored.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithConstraints overrides the requested capture format.
func WithConstraints(c Constraints) Option {
	return func(r *Recorder) {
		if c.SampleRate > 0 && c.Channels > 0 {
			r.constraints = c
		}
	}
}

// WithDrainTimeout bounds how long [Recorder.Stop] waits for the device to
// deliver its last frames after Close.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// Recorder captures utterances from a [Device]. It is safe for concurrent
// use; Start and Stop are serialised.
type Recorder struct {
	dev           Device
	constraints   Constraints
	flushInterval time.Duration
	drainTimeout  time.Duration

	mu   sync.Mutex
	sess *session
}

// New creates a Recorder for dev.
func New(dev Device, opts ...Option) *Recorder {
	r := &Recorder{
		dev:           dev,
		constraints:   DefaultConstraints(),
		flushInterval: defaultFlushInterval,
		drainTimeout:  defaultDrainTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recording reports whether a capture session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// Start opens the device and begins capturing. A session that is already
// running is stopped and its audio discarded first. Failure to open the
// device returns an error matching [ErrDeviceUnavailable].
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess != nil {
		slog.Debug("recorder: discarding previous session")
		r.sess.end(r.drainTimeout)
		r.sess = nil
	}

	stream, err := r.dev.Open(ctx, r.constraints)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return fmt.Errorf("recorder: open device: %w", err)
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	s := &session{
		stream: stream,
		target: r.constraints.Format(),
		conv:   &audio.FormatConverter{Target: r.constraints.Format()},
		abort:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	if f := stream.Format(); f != s.target {
		slog.Info("recorder: device format differs from request, converting",
			"device_rate", f.SampleRate,
			"device_channels", f.Channels,
			"rate", s.target.SampleRate,
			"channels", s.target.Channels,
		)
	}
	go s.capture(r.flushInterval)
	r.sess = s
	return nil
}

// Stop ends the active session and returns its finalized utterance. When no
// session is active it returns (nil, nil). An encoding failure is returned as
// a wrapped [*wav.EncodeError].
func (r *Recorder) Stop() (*Utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sess
	if s == nil {
		return nil, nil
	}
	r.sess = nil

	chunks := s.end(r.drainTimeout)
	u := &Utterance{format: s.target, chunks: chunks}
	if err := u.finalize(); err != nil {
		return nil, fmt.Errorf("recorder: finalize utterance: %w", err)
	}
	slog.Debug("recorder: utterance captured",
		"chunks", len(chunks),
		"duration", u.Duration(),
	)
	return u, nil
}

// session is one capture run. chunks is written only by the capture
// goroutine and read only after done is closed.
type session struct {
	stream Stream
	target audio.Format
	conv   *audio.FormatConverter

	chunks  [][]byte
	pending []byte

	abort chan struct{}
	done  chan struct{}
}

func (s *session) capture(flushEvery time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	frames := s.stream.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				s.flush()
				return
			}
			f = s.conv.Convert(f)
			s.pending = append(s.pending, f.Data...)
		case <-ticker.C:
			s.flush()
		case <-s.abort:
			s.flush()
			// Let the source finish its in-flight sends.
			go func() {
				for range frames {
				}
			}()
			return
		}
	}
}

func (s *session) flush() {
	if len(s.pending) == 0 {
		return
	}
	s.chunks = append(s.chunks, s.pending)
	s.pending = nil
}

// end closes the stream, waits for the final frames and returns the chunks
// in capture order.
func (s *session) end(drainTimeout time.Duration) [][]byte {
	if err := s.stream.Close(); err != nil {
		slog.Warn("recorder: close stream", "err", err)
	}

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		slog.Warn("recorder: device did not finish within drain timeout", "timeout", drainTimeout)
		close(s.abort)
		<-s.done
	}
	return s.chunks
}
