// Package playback plays decoded reply audio to an output and exposes the
// playing audio as a signal the mouth animator can follow.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cartomancer/internal/mouth"
	"github.com/MrWong99/cartomancer/pkg/audio"
	"github.com/MrWong99/cartomancer/pkg/audio/wav"
)

const defaultFrameDuration = 20 * time.Millisecond

// Output receives interleaved PCM frames in playback order.
type Output interface {
	Write(frame audio.AudioFrame) error
}

// OutputFunc adapts a plain function to [Output].
type OutputFunc func(frame audio.AudioFrame) error

// Write implements [Output].
func (f OutputFunc) Write(frame audio.AudioFrame) error { return f(frame) }

// Discard is an [Output] that drops every frame.
var Discard Output = OutputFunc(func(audio.AudioFrame) error { return nil })

// Collector is an [Output] that keeps every frame so the reply can be saved.
type Collector struct {
	mu     sync.Mutex
	pcm    []byte
	format audio.Format
}

// Write implements [Output].
func (c *Collector) Write(frame audio.AudioFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.format.SampleRate == 0 {
		c.format = audio.Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	} else if c.format.SampleRate != frame.SampleRate || c.format.Channels != frame.Channels {
		return fmt.Errorf("playback: collector: format changed from %dHz/%dch to %dHz/%dch",
			c.format.SampleRate, c.format.Channels, frame.SampleRate, frame.Channels)
	}
	c.pcm = append(c.pcm, frame.Data...)
	return nil
}

// Reset discards everything collected.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pcm = nil
	c.format = audio.Format{}
}

// WAV encodes everything collected so far.
func (c *Collector) WAV() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.format.SampleRate == 0 {
		return nil, &wav.EncodeError{Reason: "nothing collected"}
	}
	return wav.EncodePCM16(c.pcm, c.format.SampleRate, c.format.Channels)
}

// Option configures a [Player].
type Option func(*Player)

// WithFrameDuration sets how much audio is written per frame.
func WithFrameDuration(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.frame = d
		}
	}
}

// WithPacing controls whether frames are written in real time. Without
// pacing the whole buffer is written as fast as the output accepts it and
// the session ends as soon as the last frame is out.
func WithPacing(on bool) Option {
	return func(p *Player) { p.paced = on }
}

// Player starts playback sessions on an output.
type Player struct {
	out   Output
	frame time.Duration
	paced bool
}

// NewPlayer creates a Player writing to out.
func NewPlayer(out Output, opts ...Option) *Player {
	if out == nil {
		out = Discard
	}
	p := &Player{out: out, frame: defaultFrameDuration, paced: true}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play starts playing buf and returns the running session. The session ends
// when the audio is exhausted, when it is stopped or when ctx is cancelled.
func (p *Player) Play(ctx context.Context, buf *audio.Buffer) *Session {
	if buf == nil {
		buf = &audio.Buffer{}
	}
	s := &Session{
		buf:    buf,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(ctx, p.out, p.frame, p.paced)
	return s
}

// Session is one reply being played. It implements [mouth.Signal].
type Session struct {
	buf *audio.Buffer

	mu      sync.Mutex
	pos     int
	err     error
	stopped bool

	stopOnce sync.Once
	cancel   chan struct{}
	done     chan struct{}
}

// Stop halts playback. Done is closed once the pacing goroutine has exited.
// Calling Stop more than once is safe.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.cancel)
	})
	<-s.done
}

// Done is closed when playback has finished or was stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the output error that ended playback early, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stopped reports whether the session was ended by Stop rather than by
// running out of audio.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Position returns how much of the audio has been played.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.pos) * time.Second / time.Duration(s.buf.SampleRate)
}

// Duration returns the total length of the audio.
func (s *Session) Duration() time.Duration { return s.buf.Duration() }

// TimeDomain implements [mouth.Signal]. It fills dst with the samples just
// before the play position, mixed to mono and mapped to unsigned 8-bit with
// 128 as silence.
func (s *Session) TimeDomain(dst []byte) int {
	s.mu.Lock()
	pos := s.pos
	s.mu.Unlock()

	chans := s.buf.Channels
	if len(chans) == 0 || len(dst) == 0 {
		return 0
	}
	from := max(pos-len(dst), 0)
	n := pos - from
	for i := range n {
		var sum float32
		for _, ch := range chans {
			sum += ch[from+i]
		}
		v := 128 + sum/float32(len(chans))*128
		dst[i] = byte(min(max(v, 0), 255))
	}
	return n
}

func (s *Session) run(ctx context.Context, out Output, frame time.Duration, paced bool) {
	defer close(s.done)

	total := s.buf.Frames()
	step := int(int64(s.buf.SampleRate) * int64(frame) / int64(time.Second))
	if step < 1 || total == 0 {
		return
	}

	var tick <-chan time.Time
	if paced {
		ticker := time.NewTicker(frame)
		defer ticker.Stop()
		tick = ticker.C
	}

	for from := 0; from < total; from += step {
		to := min(from+step, total)
		err := out.Write(audio.AudioFrame{
			Data:       audio.Interleave(s.buf.Channels, from, to),
			SampleRate: s.buf.SampleRate,
			Channels:   s.buf.NumChannels(),
			Timestamp:  time.Duration(from) * time.Second / time.Duration(s.buf.SampleRate),
		})
		if err != nil {
			slog.Warn("playback: output write failed", "err", err)
			s.mu.Lock()
			s.err = fmt.Errorf("playback: write: %w", err)
			s.mu.Unlock()
			return
		}

		// The position advances as the frame is heard, one frame period later.
		if tick != nil {
			select {
			case <-tick:
			case <-s.cancel:
				return
			case <-ctx.Done():
				return
			}
		} else {
			select {
			case <-s.cancel:
				return
			case <-ctx.Done():
				return
			default:
			}
		}
		s.mu.Lock()
		s.pos = to
		s.mu.Unlock()
	}
}

var _ mouth.Signal = (*Session)(nil)
