package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/docrag/internal/index"
	"github.com/54b3r/docrag/internal/logging"
)

// watchDebounce coalesces the burst of events a pointer rename produces.
const watchDebounce = 200 * time.Millisecond

// Watch reloads h whenever the CURRENT pointer under layout changes, which
// happens when another process (the ingest command) publishes a generation.
// After a reload that changes the served generation, and so has closed the
// previous engine, retire (if non-nil) is called with the generation now
// served. It blocks until ctx is cancelled.
func Watch(ctx context.Context, h *Handle, layout index.Layout, retire func(ctx context.Context, served string)) error {
	log := logging.FromContext(ctx)
	if err := layout.Init(); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("engine: create watcher: %w", err)
	}
	defer w.Close()

	// The pointer is replaced by rename, so watch its directory.
	if err := w.Add(layout.Root); err != nil {
		return fmt.Errorf("engine: watch %s: %w", layout.Root, err)
	}
	log.Info("engine: watching for published generations", slog.String("path", layout.PointerPath()))

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != index.PointerFile {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			timer.Reset(watchDebounce)

		case <-timer.C:
			before := h.Generation()
			if err := h.Reload(ctx); err != nil && !errors.Is(err, ErrNoKnowledgeBase) {
				log.Warn("engine: reload after pointer change failed", slog.Any("error", err))
				continue
			}
			served := h.Generation()
			if served == before {
				continue
			}
			log.Info("engine: serving generation", slog.String("generation", served))
			if retire != nil && served != "" {
				retire(ctx, served)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("engine: watcher error", slog.Any("error", err))
		}
	}
}
