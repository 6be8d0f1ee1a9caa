package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses offline hash-based embeddings
	ProviderStatic ProviderType = "static"

	// ProviderOllama uses the Ollama HTTP API
	ProviderOllama ProviderType = "ollama"
)

// NewFromConfig builds the embedder selected by cfg, wrapped in a query
// cache when CacheSize is positive.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic, "":
		e = NewStaticEmbedder(StaticDimensions)
	case ProviderOllama:
		e, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:    cfg.Host,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, ierrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("use \"static\" or \"ollama\"")
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}

// BackendFromConfig returns a lazily initialized backend for cfg.
func BackendFromConfig(cfg config.EmbeddingsConfig) *Backend {
	return NewBackend(func(ctx context.Context) (Embedder, error) {
		return NewFromConfig(ctx, cfg)
	})
}
