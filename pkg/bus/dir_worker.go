package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/fsnotify/fsnotify"
)

type dirWorker struct {
	*worker.BaseWorker
	bus     *Dir
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

func newDirWorker(d *Dir) *dirWorker {
	return &dirWorker{
		BaseWorker: worker.NewBaseWorker("bus-watcher"),
		bus:        d,
	}
}

func (w *dirWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("bus watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.bus.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.bus.path, err)
	}
	w.watcher = watcher

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *dirWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *dirWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"path":              w.bus.path,
		}
	})
}

func (w *dirWorker) run(ctx context.Context) (err error) {
	logger := w.bus.logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("bus watcher panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("bus watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				logger.Error("bus watcher panic", "error", err)
			}
		}
	}()
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			// Atomic writes land as a rename onto the final name.
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				w.bus.deliver(ctx, event.Name)
			}

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("fsnotify error", "error", wErr)
		}
	}
}
