package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives the previous and the newly loaded config.
type ReloadFunc func(old, new *Config)

// fingerprint identifies one version of the config file on disk.
type fingerprint struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls a config file and hands every valid change that affects at
// least one setting to a [ReloadFunc]. Files that fail to parse or validate
// are logged and ignored; the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	seen    fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.seen = fp
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime) && info.Size() == w.seen.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, fp, err := w.read()
	if err != nil {
		slog.Warn("config: keeping previous config", "path", w.path, "err", err)
		w.mu.Lock()
		// Remember the broken version so it is reported once.
		w.seen.mtime, w.seen.size = fp.mtime, fp.size
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	sameContent := fp.sum == w.seen.sum
	w.seen = fp
	old := w.current
	if !sameContent {
		w.current = cfg
	}
	w.mu.Unlock()
	if sameContent {
		return
	}

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config: reloaded", "path", w.path,
		"log_level", d.LogLevelChanged,
		"queue", d.QueueLimitsChanged,
		"vad", d.VADChanged,
		"filter", d.FilterChanged,
		"batcher", d.BatcherChanged,
		"context", d.ContextChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onReload != nil {
		w.onReload(old, cfg)
	}
}

// read loads and validates the file. The fingerprint's mtime and size are
// filled even when parsing fails.
func (w *Watcher) read() (*Config, fingerprint, error) {
	var fp fingerprint
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fp, err
	}
	fp.mtime, fp.size = info.ModTime(), info.Size()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fp, err
	}
	fp.sum = sha256.Sum256(data)

	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fp, err
	}
	return cfg, fp, nil
}
