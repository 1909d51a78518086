package mouth

import (
	"sync"
	"time"
)

// TimerScheduler is a [FrameScheduler] backed by [time.AfterFunc]. Frames
// requested while paused are held and run on Resume, the way a browser
// withholds animation frames from a hidden tab.
type TimerScheduler struct {
	interval time.Duration

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*time.Timer
	held   map[uint64]func()
	paused bool
}

// NewTimerScheduler creates a scheduler running at fps frames per second.
// Non-positive fps defaults to 60.
func NewTimerScheduler(fps int) *TimerScheduler {
	if fps <= 0 {
		fps = 60
	}
	return &TimerScheduler{
		interval: time.Second / time.Duration(fps),
		timers:   make(map[uint64]*time.Timer),
		held:     make(map[uint64]func()),
	}
}

// Interval returns the time between frames.
func (s *TimerScheduler) Interval() time.Duration { return s.interval }

// RequestFrame implements [FrameScheduler].
func (s *TimerScheduler) RequestFrame(fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if _, ok := s.timers[id]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		if s.paused {
			s.held[id] = fn
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		fn()
	})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
		delete(s.held, id)
	}
}

// Pause holds frames instead of running them.
func (s *TimerScheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume runs every held frame and lets new frames through again.
func (s *TimerScheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	held := s.held
	s.held = make(map[uint64]func())
	s.mu.Unlock()

	for _, fn := range held {
		fn()
	}
}

// Pending returns how many frames are scheduled or held.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers) + len(s.held)
}

var _ FrameScheduler = (*TimerScheduler)(nil)
