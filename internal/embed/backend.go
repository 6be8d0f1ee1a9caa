package embed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// ErrBackendClosed is returned by Get after Close.
var ErrBackendClosed = ierrors.EmbeddingFailure("embedding backend is closed", nil)

// Factory constructs an embedder. It may be slow (model load, health check).
type Factory func(ctx context.Context) (Embedder, error)

// Backend is a lazily initialized embedder shared by everything in a
// process. The factory runs at most once successfully; concurrent Get
// calls wait for it and share the same instance. A failed initialization
// is not cached, so a later Get tries again. Close is terminal.
type Backend struct {
	factory Factory

	mu       sync.Mutex
	embedder Embedder
	closed   bool
}

// NewBackend creates a backend that builds its embedder with factory on
// first use.
func NewBackend(factory Factory) *Backend {
	return &Backend{factory: factory}
}

var (
	processOnce    sync.Once
	processBackend *Backend
)

// ProcessBackend returns the process's embedding backend, creating it from
// cfg on the first call. Later calls return the same backend and ignore
// cfg. It lives until the process exits.
func ProcessBackend(cfg config.EmbeddingsConfig) *Backend {
	processOnce.Do(func() {
		processBackend = BackendFromConfig(cfg)
	})
	return processBackend
}

// Get returns the shared embedder, creating it on first call.
func (b *Backend) Get(ctx context.Context) (Embedder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendClosed
	}
	if b.embedder != nil {
		return b.embedder, nil
	}

	start := time.Now()
	e, err := b.factory(ctx)
	if err != nil {
		return nil, err
	}
	b.embedder = e
	slog.Info("embedder_initialized",
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()),
		slog.Duration("elapsed", time.Since(start)))
	return e, nil
}

// Initialized reports whether Get has produced an embedder that is still
// open.
func (b *Backend) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.embedder != nil
}

// Close closes the embedder if one was created. Get fails afterwards;
// closing twice is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.embedder == nil {
		return nil
	}
	err := b.embedder.Close()
	b.embedder = nil
	return err
}
