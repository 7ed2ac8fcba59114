package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the analysis section of a config file when it changes.
// Other sections need a restart and are ignored.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	current AnalysisConfig
	modTime time.Time
	size    int64

	// OnReload is called with every new, valid analysis section.
	OnReload func(AnalysisConfig)
}

// NewWatcher prepares a watcher for path seeded with the analysis section
// currently in use.
func NewWatcher(path string, current AnalysisConfig, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     abs,
		debounce: 250 * time.Millisecond,
		logger:   logger.With("component", "config"),
		current:  current,
	}
	if st, err := os.Stat(abs); err == nil {
		w.modTime, w.size = st.ModTime(), st.Size()
	}
	return w, nil
}

// Current returns the most recently applied analysis section.
func (w *Watcher) Current() AnalysisConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file's directory until ctx is cancelled. Editors that
// replace the file on save are handled because the directory is watched.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(ev.Name); err != nil || name != w.path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "err", err)
		}
	}
}

// reload re-reads the file and applies its analysis section when it differs
// from the current one. Invalid files keep the previous values.
func (w *Watcher) reload() {
	st, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := st.ModTime().Equal(w.modTime) && st.Size() == w.size
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.modTime, w.size = st.ModTime(), st.Size()
	changed := cfg.Analysis != w.current
	w.current = cfg.Analysis
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.Info("analysis config reloaded",
		"window_seconds", cfg.Analysis.WindowSeconds,
		"distance_factor", cfg.Analysis.DistanceFactor,
		"prominence_factor", cfg.Analysis.ProminenceFactor,
		"refresh_interval", cfg.Analysis.RefreshInterval,
	)
	if w.OnReload != nil {
		w.OnReload(cfg.Analysis)
	}
}
