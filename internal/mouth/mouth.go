// Package mouth drives the avatar's mouth from the loudness of the audio
// being played.
//
// An [Animator] samples the time-domain window of a [Signal] once per frame,
// maps its mean deviation from silence to an openness value and writes it to
// the avatar's mouth parameter. When the signal ends, or the animator is
// detached, the mouth is forced back to rest exactly once.
package mouth

import (
	"sync"

	"github.com/MrWong99/cartomancer/internal/avatar"
)

// Signal is the audio the mouth follows.
type Signal interface {
	// TimeDomain fills dst with the most recent unsigned 8-bit samples, where
	// 128 is silence, and returns how many were written.
	TimeDomain(dst []byte) int

	// Done is closed when the signal has finished playing.
	Done() <-chan struct{}
}

// FrameScheduler runs a callback before the next display frame.
type FrameScheduler interface {
	// RequestFrame schedules fn once. The returned cancel prevents fn from
	// running if it has not started yet.
	RequestFrame(fn func()) (cancel func())
}

// Config tunes the openness mapping.
type Config struct {
	Base    float64
	Gain    float64
	MinOpen float64
	MaxOpen float64

	// Window is the number of samples read per frame.
	Window int
}

// DefaultConfig returns base 10, gain 1.5 and bounds [10, 200] over a
// 2048-sample window.
func DefaultConfig() Config {
	return Config{
		Base:    10,
		Gain:    1.5,
		MinOpen: avatar.MouthRest,
		MaxOpen: avatar.MouthMax,
		Window:  2048,
	}
}

// Option configures an [Animator].
type Option func(*Animator)

// WithConfig replaces the openness mapping. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(a *Animator) {
		if c.Base != 0 {
			a.cfg.Base = c.Base
		}
		if c.Gain != 0 {
			a.cfg.Gain = c.Gain
		}
		if c.MinOpen != 0 {
			a.cfg.MinOpen = c.MinOpen
		}
		if c.MaxOpen != 0 {
			a.cfg.MaxOpen = c.MaxOpen
		}
		if c.Window > 0 {
			a.cfg.Window = c.Window
		}
	}
}

// Openness maps a time-domain window to a mouth value:
// clamp(base + mean(|s-128|)*gain, min, max). An empty window yields the
// value for silence.
func Openness(window []byte, c Config) float64 {
	var avg float64
	if len(window) > 0 {
		var sum int
		for _, s := range window {
			d := int(s) - 128
			if d < 0 {
				d = -d
			}
			sum += d
		}
		avg = float64(sum) / float64(len(window))
	}
	v := c.Base + avg*c.Gain
	return min(max(v, c.MinOpen), c.MaxOpen)
}

// Animator moves the mouth while a signal plays. It is safe for concurrent
// use. Sink writes happen with the animator's lock held, so the sink must
// not call back into the animator.
type Animator struct {
	sink  avatar.Sink
	sched FrameScheduler
	cfg   Config

	mu       sync.Mutex
	gen      uint64
	attached bool
	sig      Signal
	cancel   func()
	unwatch  chan struct{}
	buf      []byte
}

// New creates an Animator writing to sink and pacing itself with sched.
func New(sink avatar.Sink, sched FrameScheduler, opts ...Option) *Animator {
	a := &Animator{sink: sink, sched: sched, cfg: DefaultConfig()}
	for _, o := range opts {
		o(a)
	}
	a.buf = make([]byte, a.cfg.Window)
	return a
}

// Config returns the animator's openness mapping.
func (a *Animator) Config() Config { return a.cfg }

// Attached reports whether the animator is following a signal.
func (a *Animator) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

// Attach starts following sig. A signal that is already attached is
// detached first, which writes its rest value.
func (a *Animator) Attach(sig Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.attached {
		a.restLocked()
	}
	a.gen++
	gen := a.gen
	a.attached = true
	a.sig = sig
	a.unwatch = make(chan struct{})
	a.cancel = a.sched.RequestFrame(func() { a.frame(gen) })

	go a.watch(gen, sig.Done(), a.unwatch)
}

// Detach stops following the current signal, cancels the pending frame and
// writes the rest value. It does nothing when not attached.
func (a *Animator) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attached {
		a.restLocked()
	}
}

func (a *Animator) watch(gen uint64, done <-chan struct{}, unwatch <-chan struct{}) {
	select {
	case <-done:
	case <-unwatch:
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attached && a.gen == gen {
		a.restLocked()
	}
}

func (a *Animator) frame(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attached || a.gen != gen {
		return
	}
	select {
	case <-a.sig.Done():
		a.restLocked()
		return
	default:
	}

	n := a.sig.TimeDomain(a.buf)
	a.sink.SetParameter(avatar.MouthParam, Openness(a.buf[:n], a.cfg))
	a.cancel = a.sched.RequestFrame(func() { a.frame(gen) })
}

// restLocked ends the current attachment. Must be called with a.mu held and
// a.attached true.
func (a *Animator) restLocked() {
	a.attached = false
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	close(a.unwatch)
	a.sig = nil
	a.sink.SetParameter(avatar.MouthParam, a.cfg.MinOpen)
}
