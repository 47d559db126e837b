package devices

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForDevice blocks until the device node at path exists, using
// inotify on the parent directory so a camera that enumerates after
// boot is picked up without polling. Returns immediately when the node
// is already present. The context bounds the wait.
func WaitForDevice(ctx context.Context, path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// The node may have appeared between the Stat and the Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	logger.Info("Waiting for device to appear", "path", path)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("device %s did not appear: %w", path, ctx.Err())

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			if event.Op&fsnotify.Create != 0 && event.Name == path {
				logger.Debug("Device appeared", "path", path)
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed while waiting for %s", path)
			}
			logger.Warn("Device watcher error", "error", err)
		}
	}
}
