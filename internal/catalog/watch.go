package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eugenenazirov/packs-optimizer/internal/metrics"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the catalog whenever the file at path changes. The parent
// directory is watched so atomic rename-over writes are observed too. Watch
// blocks until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch catalog directory: %w", err)
	}

	c.logger.Info("watching catalog file", zap.String("path", target))

	// Reloads run on this goroutine, so none is in flight once Watch returns.
	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("catalog watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			c.reload(ctx, "watch")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("catalog watcher error", zap.Error(err))
		}
	}
}

// Poll reloads the catalog from storage every interval until ctx is cancelled.
func (c *Catalog) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.reload(ctx, "poll")
		}
	}
}

func (c *Catalog) reload(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	changed, err := c.Load(ctx)
	if err != nil {
		c.logger.Error("catalog reload failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if changed {
		snap := c.Current()
		metrics.ObserveCatalog(snap.Len(), snap.Version)
		c.logger.Info("catalog reloaded", zap.String("trigger", trigger), zap.Uint64("version", snap.Version))
	}
}
