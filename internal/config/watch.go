package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/splitlink/splitlink/internal/logging"
)

// DefaultWatchDebounce coalesces the burst of events editors emit per save.
const DefaultWatchDebounce = 150 * time.Millisecond

// WatchOptions configures a config file watch.
type WatchOptions struct {
	// Reload produces the new config after a change. Required.
	Reload func() (*Config, error)
	// OnChange receives each successfully reloaded config. Required.
	OnChange func(*Config)
	Debounce time.Duration
	Logger   *log.Logger
}

// Watch follows path and calls OnChange with a freshly loaded config after each
// change. The parent directory is watched so atomic rename saves are seen.
// Reload failures are logged and the previous config stays in effect. The
// returned channel closes once the watch stops after ctx is cancelled.
func Watch(ctx context.Context, path string, opts WatchOptions) (<-chan struct{}, error) {
	if opts.Reload == nil || opts.OnChange == nil {
		return nil, errors.New("reload and on-change callbacks are required")
	}
	if path == "" {
		return nil, errors.New("watch path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path %q: %w", path, err)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	logger := logging.OrDiscard(opts.Logger).With("config_path", absPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch config directory %q: %w", filepath.Dir(absPath), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				pending = time.After(debounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			case <-pending:
				pending = nil
				cfg, err := opts.Reload()
				if err != nil {
					logger.Warn("config reload failed; keeping previous settings", "error", err)
					continue
				}
				logger.Info("config reloaded")
				opts.OnChange(cfg)
			}
		}
	}()

	return done, nil
}
