// Package mock provides manual implementations of [mouth.FrameScheduler] and
// [mouth.Signal] so tests can step the animator frame by frame.
//
//	sched := &mock.Scheduler{}
//	sig := mock.NewSignal(160)
//	anim := mouth.New(sink, sched)
//	anim.Attach(sig)
//	sched.Step() // runs one frame
package mock

import (
	"sync"

	"github.com/MrWong99/cartomancer/internal/mouth"
)

// ─── Scheduler ────────────────────────────────────────────────────────────────

// Scheduler queues requested frames until the test runs them with Step.
type Scheduler struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]func()
	order   []uint64

	// CallCountRequestFrame records how many frames were requested.
	CallCountRequestFrame int

	// CallCountCancel records how many cancel functions were invoked.
	CallCountCancel int
}

// RequestFrame implements [mouth.FrameScheduler].
func (s *Scheduler) RequestFrame(fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[uint64]func())
	}
	s.CallCountRequestFrame++
	s.nextID++
	id := s.nextID
	s.pending[id] = fn
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.CallCountCancel++
		delete(s.pending, id)
	}
}

// Step runs every frame pending at the time of the call and reports how
// many ran. Frames requested by those callbacks wait for the next Step.
func (s *Scheduler) Step() int {
	s.mu.Lock()
	var fns []func()
	for _, id := range s.order {
		if fn, ok := s.pending[id]; ok {
			fns = append(fns, fn)
			delete(s.pending, id)
		}
	}
	s.order = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending returns how many frames are waiting to run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ─── Signal ───────────────────────────────────────────────────────────────────

// Signal is a [mouth.Signal] whose window and end are set by the test.
type Signal struct {
	mu      sync.Mutex
	window  []byte
	done    chan struct{}
	endOnce sync.Once
}

// NewSignal creates a signal whose window holds n silent samples.
func NewSignal(n int) *Signal {
	w := make([]byte, n)
	for i := range w {
		w[i] = 128
	}
	return &Signal{window: w, done: make(chan struct{})}
}

// SetWindow replaces the samples returned by TimeDomain.
func (s *Signal) SetWindow(w []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append([]byte(nil), w...)
}

// TimeDomain implements [mouth.Signal].
func (s *Signal) TimeDomain(dst []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copy(dst, s.window)
}

// Done implements [mouth.Signal].
func (s *Signal) Done() <-chan struct{} { return s.done }

// End closes Done. Calling it more than once is safe.
func (s *Signal) End() {
	s.endOnce.Do(func() { close(s.done) })
}

var (
	_ mouth.FrameScheduler = (*Scheduler)(nil)
	_ mouth.Signal         = (*Signal)(nil)
)
