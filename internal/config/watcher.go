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

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 2 * time.Second

// fileStamp identifies one revision of the config file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher keeps the latest valid revision of a config file and reports
// accepted revisions to a callback. The file is polled; a revision is
// accepted only when its content changed and it validates. Rejected
// revisions leave the current config in place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	onReject func(error)

	// reloadMu serialises polls and forced reloads.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRejectHandler registers fn to be told about revisions that failed to
// load or validate.
func WithRejectHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// NewWatcher loads path and starts polling it. onChange may be nil; it runs on
// the polling goroutine, outside the watcher's lock.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp = cfg, stamp

	go w.poll()
	return w, nil
}

// Current returns the latest accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload reads the file now, regardless of its modification time, and
// reports whether a new revision was accepted.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

// Stop ends polling and waits for an in-flight callback to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) poll() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				slog.Warn("config: reload rejected, keeping current config", "path", w.path, "err", err)
			}
		}
	}
}

// reload accepts a new revision of the file. Unless forced, an unchanged
// mtime and size skip reading.
func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, w.reject(err)
		}
		if info.ModTime().Equal(prev.mtime) && info.Size() == prev.size {
			return false, nil
		}
	}

	cfg, stamp, err := w.read()
	if err != nil {
		// Remember the stamp so a broken file is reported once per edit.
		w.mu.Lock()
		w.stamp.mtime, w.stamp.size = stamp.mtime, stamp.size
		w.mu.Unlock()
		return false, w.reject(err)
	}

	w.mu.Lock()
	if stamp.sum == prev.sum {
		w.stamp = stamp
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	slog.Info("config: new revision accepted", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) reject(err error) error {
	if w.onReject != nil {
		w.onReject(err)
	}
	return err
}

// read parses and validates the file. The stamp's mtime and size are set
// even when parsing fails.
func (w *Watcher) read() (*Config, fileStamp, error) {
	var stamp fileStamp
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp, err
	}
	stamp.mtime, stamp.size = info.ModTime(), info.Size()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp, err
	}
	stamp.sum = sha256.Sum256(data)

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp, err
	}
	return cfg, stamp, nil
}
