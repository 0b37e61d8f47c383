package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// Notifier turns filesystem events in the inbound directory into scan
// triggers so new files are picked up before the next poll.
type Notifier struct {
	watcher *fsnotify.Watcher
	trigger chan struct{}
	logger  *slog.Logger
}

// NewNotifier starts watching dir.
func NewNotifier(dir string, logger *slog.Logger) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{watcher: w, trigger: make(chan struct{}, 1), logger: logger}, nil
}

// C delivers at most one pending trigger at a time.
func (n *Notifier) C() <-chan struct{} { return n.trigger }

// Run forwards events until ctx is done or the watcher is closed.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !utils.IsSupportedImage(ev.Name) {
				continue
			}
			select {
			case n.trigger <- struct{}{}:
			default:
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (n *Notifier) Close() error { return n.watcher.Close() }
