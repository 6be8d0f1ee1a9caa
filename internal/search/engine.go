// Package search answers semantic similarity and duplicate queries over
// the stored chunk embeddings. It only reads the store, so any process can
// serve queries regardless of its election role.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"strings"
	"time"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// Engine runs queries against a store snapshot.
type Engine struct {
	reader    Reader
	embedders EmbedderSource
	opts      Options
}

// NewEngine creates an Engine.
func NewEngine(r Reader, embedders EmbedderSource, opts Options) (*Engine, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if embedders == nil {
		return nil, fmt.Errorf("embedder source is required")
	}
	if opts.ExactPairLimit <= 0 {
		opts.ExactPairLimit = DefaultExactPairLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Neighbors <= 0 {
		opts.Neighbors = DefaultNeighbors
	}
	if opts.ClusterPairLimit <= 0 {
		opts.ClusterPairLimit = DefaultClusterPairLimit
	}
	return &Engine{reader: r, embedders: embedders, opts: opts}, nil
}

// Search returns up to topK chunks scoring at least minScore against
// query, by score descending with ties broken by ascending chunk ID.
func (e *Engine) Search(ctx context.Context, query string, topK int, minScore float64) ([]SimilarChunk, error) {
	switch {
	case strings.TrimSpace(query) == "":
		return nil, ierrors.InvalidQuery("query must not be empty")
	case topK <= 0:
		return nil, ierrors.InvalidQuery("top_k must be positive").WithDetail("top_k", fmt.Sprint(topK))
	case math.IsNaN(minScore) || minScore < 0 || minScore > 1:
		return nil, ierrors.InvalidQuery("min_score must be within [0,1]").WithDetail("min_score", fmt.Sprint(minScore))
	}

	start := time.Now()
	emb, err := e.embedders.Get(ctx)
	if err != nil {
		return nil, err
	}
	qv, err := emb.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ierrors.EmbeddingFailure("embed query", err)
	}
	qv = normalized(qv)

	var (
		hits    []SimilarChunk
		skipped int
	)
	for c, err := range e.reader.ScanVectors(ctx) {
		if err != nil {
			return nil, err
		}
		if len(c.Embedding) != len(qv) {
			skipped++
			continue
		}
		score := clamp01(dot(qv, normalized(c.Embedding)))
		if score < minScore {
			continue
		}
		hits = append(hits, SimilarChunk{Chunk: c.Ref(), Score: score, Language: c.Language})
	}

	slices.SortFunc(hits, func(a, b SimilarChunk) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	for i := range hits {
		c, err := e.reader.ReadChunk(ctx, hits[i].Chunk.ID)
		switch {
		case err == nil:
			hits[i].Content = c.Content
		case errors.Is(err, ierrors.ErrNotFound):
			// Replaced since the scan; the hit stands without content.
		default:
			return nil, err
		}
	}

	if skipped > 0 {
		slog.Warn("search_dimension_mismatch",
			slog.Int("skipped", skipped),
			slog.Int("query_dims", len(qv)))
	}
	slog.Debug("search_complete",
		slog.Int("results", len(hits)),
		slog.Duration("duration", time.Since(start)))
	return hits, nil
}
