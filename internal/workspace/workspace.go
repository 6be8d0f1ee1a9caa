// Package workspace is the entry point for a code index rooted at one
// directory. Opening a workspace joins the election: the winner indexes in
// the background while every other process serves queries from the shared
// store and campaigns to take over if the leader goes away.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/chunk"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/election"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/embed"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/index"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/search"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// Role is the process's current part in the election.
type Role string

const (
	RoleLeader Role = "leader"
	RoleClient Role = "client"
	RoleClosed Role = "closed"
)

// Options configures Open. Zero values take defaults.
type Options struct {
	// Config defaults to config.NewConfig().
	Config *config.Config

	// Embedders is the process embedding backend, usually
	// embed.ProcessBackend. Required. Workspaces share it and never close it.
	Embedders *embed.Backend

	// Parser defaults to the tree-sitter parser.
	Parser chunk.Parser

	// HolderID overrides the generated lease holder token.
	HolderID string
}

// Workspace is an open code index.
type Workspace struct {
	root      string
	cfg       *config.Config
	store     *store.SQLiteStore
	elector   *election.Elector
	leader    *index.Leader
	engine    *search.Engine
	embedders *embed.Backend

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	role   Role
	term   *election.Term
	closed bool
}

// Open opens the index for root and makes one election attempt. If it
// wins, indexing starts in the background; otherwise the workspace serves
// queries as a client and keeps campaigning.
func Open(ctx context.Context, root string, opts Options) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, ierrors.New(ierrors.ErrCodeInvalidPath, "workspace root is not a directory", nil).
			WithDetail("path", abs)
	}

	if opts.Embedders == nil {
		return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "workspace needs an embedding backend", nil)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	w := &Workspace{root: abs, cfg: cfg, embedders: opts.Embedders, role: RoleClient}

	w.store, err = store.OpenWorkspace(ctx, abs, store.Options{})
	if err != nil {
		return nil, err
	}

	eopts := election.OptionsFromConfig(cfg.Election)
	eopts.HolderID = opts.HolderID
	w.elector = election.New(w.store, eopts)

	w.engine, err = search.NewEngine(w.store, w.embedders, search.Options{
		ExactPairLimit: cfg.Search.ExactPairLimit,
		Workers:        cfg.Index.Workers,
	})
	if err == nil {
		w.leader, err = index.NewLeader(index.OptionsFromConfig(abs, cfg.Index), w.store, w.embedders, opts.Parser)
	}
	if err != nil {
		_ = w.store.Close()
		return nil, err
	}

	term, err := w.elector.TryAcquire(ctx)
	if err != nil && !errors.Is(err, ierrors.ErrLeaseHeld) {
		_ = w.store.Close()
		return nil, err
	}
	if term != nil {
		w.role = RoleLeader
		w.term = term
	}

	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.wg.Add(1)
	go w.loop(term)

	slog.Info("workspace_opened",
		slog.String("root", abs),
		slog.String("role", string(w.Role())),
		slog.String("holder_id", w.elector.HolderID()))
	return w, nil
}

// loop alternates between campaigning and leading until Close.
func (w *Workspace) loop(term *election.Term) {
	defer w.wg.Done()

	for {
		if term == nil {
			w.setRole(RoleClient, nil)
			var err error
			term, err = w.elector.Campaign(w.ctx)
			if err != nil {
				return
			}
			slog.Info("workspace_promoted",
				slog.String("root", w.root),
				slog.Int64("epoch", term.Epoch()))
		}
		w.setRole(RoleLeader, term)

		err := w.leader.Run(w.ctx, term)
		if w.ctx.Err() != nil {
			// Close resigns the term.
			return
		}

		slog.Warn("workspace_demoted",
			append(ierrors.LogAttrs(err), slog.String("root", w.root), slog.Int64("epoch", term.Epoch()))...)
		rctx, cancel := context.WithTimeout(w.ctx, w.elector.TTL())
		_ = term.Resign(rctx)
		cancel()
		w.setRole(RoleClient, nil)

		if !errors.Is(err, ierrors.ErrElectionLost) {
			// A leader that failed on its own steps aside for a while so
			// another process gets a chance.
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.elector.TTL()):
			}
		}
		term = nil
	}
}

func (w *Workspace) setRole(r Role, term *election.Term) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// The term is recorded even while closing so Close can release it.
	w.term = term
	if !w.closed {
		w.role = r
	}
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// HolderID returns this process's lease token.
func (w *Workspace) HolderID() string { return w.elector.HolderID() }

// Role reports whether this process currently leads.
func (w *Workspace) Role() Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.role
}

// Progress returns the indexing progress of this process. It stays at
// the idle phase while the process is a client.
func (w *Workspace) Progress() index.Progress {
	return w.leader.Progress()
}

func (w *Workspace) checkOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ierrors.InternalError("workspace is closed", nil)
	}
	return nil
}

// Status reports readiness, counts and the current leader epoch.
func (w *Workspace) Status(ctx context.Context) (*store.IndexStatusInfo, error) {
	if err := w.checkOpen(); err != nil {
		return nil, err
	}
	return w.store.GetStatus(ctx)
}

func (w *Workspace) ensureReady(ctx context.Context) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	st, err := w.store.GetIndexState(ctx)
	if err != nil {
		return err
	}
	if !st.Ready {
		return ierrors.NotReady()
	}
	return nil
}

// SemanticSearch returns the chunks most similar to query. It fails with
// ErrNotReady until the first full indexing pass has completed.
func (w *Workspace) SemanticSearch(ctx context.Context, query string, topK int, minScore float64) ([]search.SimilarChunk, error) {
	if err := w.ensureReady(ctx); err != nil {
		return nil, err
	}
	return w.engine.Search(ctx, query, topK, minScore)
}

// FindAllDuplicates clusters near-identical chunks. It fails with
// ErrNotReady until the first full indexing pass has completed.
func (w *Workspace) FindAllDuplicates(ctx context.Context, minSimilarity float64, minChunkBytes int) ([]search.DuplicateCluster, error) {
	if err := w.ensureReady(ctx); err != nil {
		return nil, err
	}
	return w.engine.FindAllDuplicates(ctx, minSimilarity, minChunkBytes)
}

// WaitReady polls Status until the index is ready or ctx is done.
func (w *Workspace) WaitReady(ctx context.Context, interval time.Duration) (*store.IndexStatusInfo, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := w.Status(ctx)
		if err != nil {
			return nil, err
		}
		if st.Ready {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops background work, releases the lease if held and closes the
// store. Later calls return nil.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	term := w.term
	w.term = nil
	w.role = RoleClosed
	w.mu.Unlock()

	var errs []error
	if term != nil {
		if err := term.Resign(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release lease: %w", err))
		}
	}
	if err := w.store.Close(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("workspace_closed", slog.String("root", w.root))
	return errors.Join(errs...)
}
