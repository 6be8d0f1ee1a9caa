// Package index runs the leader's indexing loop: an embedding-model guard,
// an initial full pass over the workspace, then a steady state driven by
// file-system events and periodic rescans. Every store write carries the
// leader's fence.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/chunk"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/embed"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/scanner"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/watcher"
)

// Store is the part of the index store the leader writes through.
type Store interface {
	GetIndexState(ctx context.Context) (*store.IndexState, error)
	ResetIndex(ctx context.Context, fence store.Fence) error
	SetEmbeddingModel(ctx context.Context, fence store.Fence, model string, dims int) error
	ListFiles(ctx context.Context) (map[string]*store.FileRecord, error)
	GetFile(ctx context.Context, path string) (*store.FileRecord, error)
	ChunksByFile(ctx context.Context, path string) ([]*store.Chunk, error)
	UpsertFile(ctx context.Context, fence store.Fence, rec store.FileRecord, chunks []store.Chunk) error
	DeleteFile(ctx context.Context, fence store.Fence, path string) error
	MarkReady(ctx context.Context, fence store.Fence, at time.Time) error
}

// Term is the leadership the loop runs under. Its context ends when
// leadership does.
type Term interface {
	Context() context.Context
	Fence() store.Fence
}

// EmbedderSource hands out the process embedding backend.
type EmbedderSource interface {
	Get(ctx context.Context) (embed.Embedder, error)
}

// Options configures a Leader.
type Options struct {
	// Root is the workspace root.
	Root string

	MinChunkBytes int
	MaxChunkBytes int

	// Workers bounds files processed concurrently during a pass.
	Workers int

	// RescanInterval is the period of the steady-state full pass.
	RescanInterval time.Duration

	// WatchDebounce coalesces file-system events; DisableWatch turns
	// watching off so only rescans run.
	WatchDebounce time.Duration
	DisableWatch  bool

	MaxFileSize int64
	Exclude     []string
}

// OptionsFromConfig maps the index config section onto Options.
func OptionsFromConfig(root string, cfg config.IndexConfig) Options {
	return Options{
		Root:           root,
		MinChunkBytes:  cfg.MinChunkBytes,
		MaxChunkBytes:  cfg.MaxChunkBytes,
		Workers:        cfg.Workers,
		RescanInterval: cfg.RescanInterval,
		WatchDebounce:  cfg.WatchDebounce,
		DisableWatch:   cfg.DisableWatch,
		MaxFileSize:    cfg.MaxFileSize,
		Exclude:        cfg.Exclude,
	}
}

const (
	defaultRescanInterval = 5 * time.Minute
	embedBatchSize        = embed.DefaultBatchSize
)

// Leader keeps the index in sync with the workspace while it holds the
// lease.
type Leader struct {
	opts      Options
	store     Store
	embedders EmbedderSource
	parser    chunk.Parser
	chunker   *chunk.Chunker
	scanner   *scanner.Scanner

	progress progressTracker
}

// NewLeader creates a Leader. parser may be nil for the tree-sitter
// default.
func NewLeader(opts Options, s Store, embedders EmbedderSource, parser chunk.Parser) (*Leader, error) {
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedders == nil {
		return nil, fmt.Errorf("embedder source is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = defaultRescanInterval
	}
	if parser == nil {
		parser = chunk.NewParser()
	}

	sc, err := scanner.New(scanner.Options{
		Root:             opts.Root,
		Exclude:          opts.Exclude,
		RespectGitignore: true,
		MaxFileSize:      opts.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}
	opts.Root = sc.Root()

	return &Leader{
		opts:      opts,
		store:     s,
		embedders: embedders,
		parser:    parser,
		chunker: chunk.New(chunk.Options{
			MinChunkBytes: opts.MinChunkBytes,
			MaxChunkBytes: opts.MaxChunkBytes,
		}),
		scanner: sc,
	}, nil
}

// Progress returns a snapshot of indexing progress.
func (l *Leader) Progress() Progress {
	return l.progress.snapshot()
}

// Run indexes until ctx is cancelled or leadership ends. It returns
// ctx.Err() on cancellation and ErrElectionLost when the term ends or a
// fenced write is rejected. Failed passes that are not fatal are logged
// and retried with backoff.
func (l *Leader) Run(ctx context.Context, term Term) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(term.Context(), cancel)
	defer stop()

	fence := term.Fence()
	err := l.run(ctx, fence)
	l.progress.setPhase(PhaseStopped)

	if term.Context().Err() != nil && !errors.Is(err, ierrors.ErrElectionLost) {
		return ierrors.ElectionLost(fence.HolderID, fence.Epoch)
	}
	return err
}

func (l *Leader) run(ctx context.Context, fence store.Fence) error {
	l.progress.setPhase(PhaseStarting)

	emb, err := l.embedders.Get(ctx)
	if err != nil {
		return err
	}
	if err := l.guardModel(ctx, fence, emb); err != nil {
		return err
	}

	// The watcher starts before the first pass so edits made during it
	// are not lost.
	var (
		events <-chan []watcher.FileEvent
		wg     sync.WaitGroup
	)
	defer wg.Wait()
	if !l.opts.DisableWatch {
		w, err := watcher.New(l.opts.Root, watcher.Options{
			DebounceWindow: l.opts.WatchDebounce,
			Filter:         l.scanner.Excluded,
		})
		if err != nil {
			slog.Warn("watcher_unavailable",
				slog.String("root", l.opts.Root),
				slog.String("error", err.Error()))
		} else {
			events = w.Events()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = w.Run(ctx)
			}()
		}
	}

	retry := ierrors.RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     l.opts.RescanInterval,
		Multiplier:   2.0,
		Jitter:       true,
	}
	failures := 0
	rescan := time.NewTimer(0)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-rescan.C:
			next := l.opts.RescanInterval
			if err := l.FullPass(ctx, fence, emb); err != nil {
				if isFatal(err) {
					return err
				}
				failures++
				next = retry.Delay(failures - 1)
				slog.Error("index_pass_failed",
					append(ierrors.LogAttrs(err), slog.Int("failures", failures), slog.Duration("retry_in", next))...)
			} else {
				failures = 0
			}
			rescan.Reset(next)

		case batch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			full, err := l.applyEvents(ctx, fence, emb, batch)
			if err != nil {
				if isFatal(err) {
					return err
				}
				slog.Warn("index_events_failed", ierrors.LogAttrs(err)...)
			}
			if full {
				if !rescan.Stop() {
					select {
					case <-rescan.C:
					default:
					}
				}
				rescan.Reset(0)
			}
		}
	}
}

// guardModel resets the index when it was built with a different
// embedding model or dimension than emb.
func (l *Leader) guardModel(ctx context.Context, fence store.Fence, emb embed.Embedder) error {
	st, err := l.store.GetIndexState(ctx)
	if err != nil {
		return err
	}
	model, dims := emb.ModelName(), emb.Dimensions()
	if st.EmbeddingModel == model && st.EmbeddingDims == dims {
		return nil
	}

	if st.EmbeddingModel != "" {
		slog.Warn("embedding_model_changed",
			slog.String("stored_model", st.EmbeddingModel),
			slog.Int("stored_dims", st.EmbeddingDims),
			slog.String("model", model),
			slog.Int("dims", dims))
		if err := l.store.ResetIndex(ctx, fence); err != nil {
			return err
		}
	}
	return l.store.SetEmbeddingModel(ctx, fence, model, dims)
}

// isFatal reports errors that end the leader loop rather than a single
// pass.
func isFatal(err error) bool {
	return errors.Is(err, ierrors.ErrElectionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ierrors.IsFatal(err)
}
