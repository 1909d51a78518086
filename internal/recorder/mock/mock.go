// Package mock provides scripted implementations of [recorder.Device] and
// [recorder.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments.
//
//	stream := mock.NewStream(audio.Format{SampleRate: 16000, Channels: 1})
//	dev := &mock.Device{Streams: []*mock.Stream{stream}}
//	rec := recorder.New(dev)
//	_ = rec.Start(ctx)
//	stream.Send(frame)
//	utt, _ := rec.Stop()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cartomancer/internal/recorder"
	"github.com/MrWong99/cartomancer/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [recorder.Device].
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// Streams are handed out by successive Open calls. Once exhausted, Open
	// creates a fresh mono 16 kHz stream.
	Streams []*Stream

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// LastConstraints holds the constraints of the most recent Open call.
	LastConstraints recorder.Constraints

	// Opened lists every stream returned by Open, in order.
	Opened []*Stream
}

// Open implements [recorder.Device].
func (d *Device) Open(_ context.Context, c recorder.Constraints) (recorder.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	d.LastConstraints = c
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	var s *Stream
	if len(d.Streams) > 0 {
		s, d.Streams = d.Streams[0], d.Streams[1:]
	} else {
		s = NewStream(c.Format())
	}
	d.Opened = append(d.Opened, s)
	return s, nil
}

// OpenCount returns how many times Open was called.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// Last returns the most recently opened stream, or nil.
func (d *Device) Last() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Opened) == 0 {
		return nil
	}
	return d.Opened[len(d.Opened)-1]
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [recorder.Stream]. Frames are pushed
// with [Stream.Send]; Close closes the frame channel unless KeepOpenOnClose
// is set, which simulates a device that never finishes.
type Stream struct {
	mu sync.Mutex

	format audio.Format
	ch     chan audio.AudioFrame
	closed bool

	// KeepOpenOnClose leaves the frame channel open after Close.
	KeepOpenOnClose bool

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream creates a stream reporting format f.
func NewStream(f audio.Format) *Stream {
	return &Stream{format: f, ch: make(chan audio.AudioFrame, 64)}
}

// Format implements [recorder.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Frames implements [recorder.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.ch }

// Send delivers frame to the reader. It reports false if the stream was
// already closed.
func (s *Stream) Send(frame audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- frame
	return true
}

// Close implements [recorder.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		if !s.KeepOpenOnClose {
			close(s.ch)
		}
	}
	return s.CloseErr
}

// CloseCount returns how many times Close was called.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

var (
	_ recorder.Device = (*Device)(nil)
	_ recorder.Stream = (*Stream)(nil)
)
