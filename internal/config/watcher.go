package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fingerprint identifies one version of the config file on disk.
type fingerprint struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher keeps a running server's config in step with its file. [Watcher.Run]
// polls the file's modification time and re-reads it on change or whenever
// the reload channel fires (SIGHUP in the server). A file that fails
// validation is logged and skipped so the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	reloadOn <-chan os.Signal
	apply    func(old, new *Config)

	// loadMu serialises loads so a forced reload never races a poll.
	loadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file's modification time is checked.
// Default: 5s. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadOn forces a re-read every time ch delivers, whether or not the
// modification time moved.
func WithReloadOn(ch <-chan os.Signal) WatcherOption {
	return func(w *Watcher) { w.reloadOn = ch }
}

// NewWatcher loads path once and returns a watcher holding it. apply runs
// after every accepted change with the replaced and the new config; it may be
// nil. Nothing is polled until [Watcher.Run].
func NewWatcher(path string, apply func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, apply: apply}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// Current returns the last config that passed validation.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file until ctx is cancelled. It always returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.modified() {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: keeping the running config", "path", w.path, "err", err)
			}
		case <-w.reloadOn:
			changed, err := w.Reload()
			switch {
			case err != nil:
				slog.Warn("config: reload rejected", "path", w.path, "err", err)
			case !changed:
				slog.Info("config: reload requested but the file is unchanged", "path", w.path)
			}
		}
	}
}

// Reload re-reads the file now. It reports whether the content differed from
// the running config; a file that cannot be read or fails validation returns
// the error and leaves the running config in place.
func (w *Watcher) Reload() (bool, error) {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	cfg, fp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	sameContent := fp.sum == w.seen.sum
	w.seen = fp
	if sameContent {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.apply != nil {
		w.apply(old, cfg)
	}
	return true, nil
}

// modified reports whether the file's modification time moved since the last
// read. Stat errors are logged and count as unmodified.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.seen.modTime)
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
