package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and reports changes through a callback. Polling
// keeps the dependency surface flat; a mod-time check gates the content hash
// so an idle file costs one stat per interval.
//
// An edit that fails to parse or validate is logged and ignored — the last
// valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it for edits.
// onChange runs outside the watcher lock, with the previous and the freshly
// loaded config; it may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check stats the file and reloads only when the mod time moved.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	if err := w.reload(); err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

// reload reads, parses, and validates the file, swapping it in (and firing
// onChange) only when the content hash actually differs.
func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched but identical.
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = info.ModTime()
	w.mu.Unlock()

	if old != nil {
		slog.Info("config watcher: configuration reloaded", "path", w.path)
		if w.onChange != nil {
			w.onChange(old, cfg)
		}
	}
	return nil
}
