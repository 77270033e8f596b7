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
const DefaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes and hands the
// previous and the new [Config] to a callback. An edit that fails to parse or
// validate is logged and skipped; the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	override func(*Config)
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
	modTime time.Time

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOverride applies fn to every config the watcher loads, before it is
// compared or reported. Command-line overrides use it so a reload does not
// undo them.
func WithOverride(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.override = fn }
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	raw, modTime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := w.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.sum, w.modTime = cfg, sha256.Sum256(raw), modTime

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-progress reload to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

// Reload reads the file now, regardless of its modification time. It reports
// whether the config changed; onChange has run by the time it returns.
func (w *Watcher) Reload() (bool, error) {
	raw, modTime, err := w.read()
	if err != nil {
		return false, err
	}
	return w.apply(raw, modTime)
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if _, err := w.poll(); err != nil {
				slog.Warn("config reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// poll reloads only when the modification time moved.
func (w *Watcher) poll() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	same := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if same {
		return false, nil
	}
	return w.Reload()
}

func (w *Watcher) apply(raw []byte, modTime time.Time) (bool, error) {
	sum := sha256.Sum256(raw)

	w.mu.Lock()
	w.modTime = modTime
	unchanged := sum == w.sum
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, err := w.parse(raw)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return raw, info.ModTime(), nil
}

func (w *Watcher) parse(raw []byte) (*Config, error) {
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if w.override != nil {
		w.override(cfg)
	}
	return cfg, nil
}
