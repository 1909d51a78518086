package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/MrWong99/cartomancer/internal/config"
)

const (
	onyxYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
  tts:
    name: openai
reading:
  voice: onyx
`
	fableYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
  tts:
    name: openai
reading:
  voice: fable
  follow_up: false
`
	brokenYAML = `
server:
  log_level: bananas
`
)

// ── helpers ──────────────────────────────────────────────────────────────────

// changeLog collects apply callbacks.
type changeLog struct {
	mu      sync.Mutex
	changes [][2]*config.Config
	notify  chan struct{}
}

func newChangeLog() *changeLog { return &changeLog{notify: make(chan struct{}, 8)} }

func (l *changeLog) apply(old, new *config.Config) {
	l.mu.Lock()
	l.changes = append(l.changes, [2]*config.Config{old, new})
	l.mu.Unlock()
	l.notify <- struct{}{}
}

func (l *changeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

func (l *changeLog) last() (old, new *config.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.changes[len(l.changes)-1]
	return c[0], c[1]
}

func (l *changeLog) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not applied")
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// bumpMtime moves the file's modification time forward so a poll notices it
// even on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	at := time.Now().Add(by)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func startWatcher(t *testing.T, content string, opts ...config.WatcherOption) (string, *config.Watcher, *changeLog) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cartomancer.yaml")
	writeConfig(t, path, content)

	log := newChangeLog()
	w, err := config.NewWatcher(path, log.apply, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	})
	return path, w, log
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	t.Run("loads immediately", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cartomancer.yaml")
		writeConfig(t, path, onyxYAML)
		w, err := config.NewWatcher(path, nil)
		if err != nil {
			t.Fatalf("NewWatcher: %v", err)
		}
		if cur := w.Current(); cur.Reading.Voice != "onyx" || cur.Server.LogLevel != config.LogInfo {
			t.Errorf("Current() = voice %q level %q", cur.Reading.Voice, cur.Server.LogLevel)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
			t.Fatal("expected an error for a missing file")
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cartomancer.yaml")
		writeConfig(t, path, brokenYAML)
		if _, err := config.NewWatcher(path, nil); err == nil {
			t.Fatal("expected a validation error")
		}
	})
}

func TestWatcher_PollAppliesEdit(t *testing.T) {
	t.Parallel()
	path, w, log := startWatcher(t, onyxYAML, config.WithInterval(20*time.Millisecond))

	writeConfig(t, path, fableYAML)
	bumpMtime(t, path, time.Second)
	log.wait(t)

	old, cur := log.last()
	if old.Reading.Voice != "onyx" || cur.Reading.Voice != "fable" {
		t.Errorf("apply(old=%q, new=%q), want onyx -> fable", old.Reading.Voice, cur.Reading.Voice)
	}
	if w.Current() != cur {
		t.Error("Current() does not return the applied config")
	}
	if cur.Reading.FollowUpEnabled() || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("new config = %+v", cur)
	}
}

func TestWatcher_PollSkipsInvalidAndTouch(t *testing.T) {
	t.Parallel()
	path, w, log := startWatcher(t, onyxYAML, config.WithInterval(20*time.Millisecond))

	// A touch without a content change is not a change.
	bumpMtime(t, path, time.Second)
	time.Sleep(150 * time.Millisecond)

	// Neither is a broken edit.
	writeConfig(t, path, brokenYAML)
	bumpMtime(t, path, 2*time.Second)
	time.Sleep(150 * time.Millisecond)

	if n := log.count(); n != 0 {
		t.Errorf("apply ran %d times, want 0", n)
	}
	if w.Current().Reading.Voice != "onyx" {
		t.Errorf("running voice = %q, want onyx", w.Current().Reading.Voice)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cartomancer.yaml")
	writeConfig(t, path, onyxYAML)
	log := newChangeLog()
	w, err := config.NewWatcher(path, log.apply)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	if changed, err := w.Reload(); changed || err != nil {
		t.Errorf("Reload(unchanged) = %v, %v", changed, err)
	}

	writeConfig(t, path, fableYAML)
	if changed, err := w.Reload(); !changed || err != nil {
		t.Fatalf("Reload(edited) = %v, %v", changed, err)
	}

	writeConfig(t, path, brokenYAML)
	if changed, err := w.Reload(); changed || err == nil {
		t.Errorf("Reload(broken) = %v, %v, want an error", changed, err)
	}
	if w.Current().Reading.Voice != "fable" {
		t.Errorf("running voice = %q, want fable", w.Current().Reading.Voice)
	}
	if n := log.count(); n != 1 {
		t.Errorf("apply ran %d times, want 1", n)
	}
}

func TestWatcher_ReloadOnSignal(t *testing.T) {
	t.Parallel()
	hup := make(chan os.Signal, 1)
	path, w, log := startWatcher(t, onyxYAML, config.WithInterval(time.Hour), config.WithReloadOn(hup))

	// Keep the modification time so only the signal can pick the edit up.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	writeConfig(t, path, fableYAML)
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	hup <- syscall.SIGHUP
	log.wait(t)
	if w.Current().Reading.Voice != "fable" {
		t.Errorf("voice after SIGHUP = %q, want fable", w.Current().Reading.Voice)
	}
}
