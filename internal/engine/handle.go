package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/54b3r/docrag/internal/index"
	"github.com/54b3r/docrag/internal/logging"
)

// generationLoader is the subset of Loader the Handle needs.
type generationLoader interface {
	Load(ctx context.Context) (*Engine, error)
}

// pointerReader reports the published generation ID.
type pointerReader interface {
	Current() (string, error)
}

// Handle is the process-wide reference to the engine being served. Readers
// take the current engine without locking; Install and Reload replace it
// atomically and close the previous one once its queries drain.
type Handle struct {
	cur    atomic.Pointer[Engine]
	loader generationLoader
	layout pointerReader

	// installMu serializes Install and Reload.
	installMu sync.Mutex
}

// NewHandle returns an empty Handle. layout may be nil when the handle is
// never reloaded from disk.
func NewHandle(loader generationLoader, layout pointerReader) *Handle {
	return &Handle{loader: loader, layout: layout}
}

// Loaded reports whether an engine is being served.
func (h *Handle) Loaded() bool { return h.cur.Load() != nil }

// Current returns the served engine, or nil.
func (h *Handle) Current() *Engine { return h.cur.Load() }

// Generation returns the served generation ID, or "".
func (h *Handle) Generation() string {
	if e := h.cur.Load(); e != nil {
		return e.Generation()
	}
	return ""
}

// Install serves e (which may be nil) and closes the engine it replaces.
func (h *Handle) Install(e *Engine) {
	h.installMu.Lock()
	defer h.installMu.Unlock()
	h.install(e)
}

func (h *Handle) install(e *Engine) {
	old := h.cur.Swap(e)
	if old != nil && old != e {
		_ = old.Close()
	}
}

// Reload loads the published generation unless it is already served. When
// nothing is published the handle is left empty. When loading fails the
// handle is emptied too: it must never serve a generation the pointer no
// longer names.
func (h *Handle) Reload(ctx context.Context) error {
	h.installMu.Lock()
	defer h.installMu.Unlock()
	log := logging.FromContext(ctx)

	if h.layout != nil {
		id, err := h.layout.Current()
		if err == nil && id == h.Generation() {
			return nil
		}
		if errors.Is(err, index.ErrNoGeneration) {
			h.install(nil)
			return ErrNoKnowledgeBase
		}
	}

	e, err := h.loader.Load(ctx)
	if err != nil {
		h.install(nil)
		if !errors.Is(err, ErrNoKnowledgeBase) {
			log.Error("engine: reload failed, serving no knowledge base", slog.Any("error", err))
		}
		return err
	}
	h.install(e)
	return nil
}

// Query runs question on the served engine. It retries once if the engine
// was swapped out between lookup and use.
func (h *Handle) Query(ctx context.Context, question string) (*Answer, error) {
	for range 2 {
		e := h.cur.Load()
		if e == nil {
			return nil, ErrNotLoaded
		}
		ans, err := e.Query(ctx, question)
		if errors.Is(err, errClosed) {
			continue
		}
		return ans, err
	}
	return nil, ErrNotLoaded
}

// Close releases the served engine.
func (h *Handle) Close() {
	h.Install(nil)
}
