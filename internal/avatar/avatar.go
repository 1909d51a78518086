// Package avatar describes the two parameters the reader's avatar exposes and
// adapters for whatever renders it.
package avatar

import (
	"log/slog"
	"sync"
)

// Parameter names understood by the avatar.
const (
	MouthParam = "mouth"
	EyesParam  = "eyes"
)

// Eye states.
const (
	EyesIdle     = 0
	EyesThinking = 1
)

// Mouth openness bounds. MouthRest is the closed, silent mouth.
const (
	MouthRest = 10
	MouthMax  = 200
)

// Sink receives parameter writes. Implementations must be safe for
// concurrent use; the animator and the turn controller write from different
// goroutines.
type Sink interface {
	SetParameter(name string, value float64)
}

// FuncSink adapts a plain function to [Sink].
type FuncSink func(name string, value float64)

// SetParameter implements [Sink].
func (f FuncSink) SetParameter(name string, value float64) { f(name, value) }

// LogSink logs every write at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// SetParameter implements [Sink].
func (s LogSink) SetParameter(name string, value float64) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Debug("avatar parameter", "name", name, "value", value)
}

// Recorder is a [Sink] that keeps every write, for tests and for callers
// that want to inspect the latest value of a parameter.
type Recorder struct {
	mu     sync.Mutex
	writes []Write
}

// Write is one recorded parameter write.
type Write struct {
	Name  string
	Value float64
}

// SetParameter implements [Sink].
func (r *Recorder) SetParameter(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, Write{Name: name, Value: value})
}

// Writes returns a copy of every write so far.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// Values returns the values written to name, in order.
func (r *Recorder) Values(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, w := range r.writes {
		if w.Name == name {
			out = append(out, w.Value)
		}
	}
	return out
}

// Last returns the most recent value written to name.
func (r *Recorder) Last(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.writes) - 1; i >= 0; i-- {
		if r.writes[i].Name == name {
			return r.writes[i].Value, true
		}
	}
	return 0, false
}

// Tee fans every write out to all sinks.
type Tee []Sink

// SetParameter implements [Sink].
func (t Tee) SetParameter(name string, value float64) {
	for _, s := range t {
		s.SetParameter(name, value)
	}
}

var (
	_ Sink = FuncSink(nil)
	_ Sink = LogSink{}
	_ Sink = (*Recorder)(nil)
	_ Sink = Tee(nil)
)
