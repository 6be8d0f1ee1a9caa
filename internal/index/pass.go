package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/chunk"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/embed"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/scanner"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/watcher"
)

// syncResult describes what syncing one file did.
type syncResult struct {
	changed  bool
	removed  bool
	written  int
	embedded int
}

// FullPass brings the store in line with the workspace: changed and new
// files are re-indexed, records of vanished files are deleted, then the
// index is marked ready.
func (l *Leader) FullPass(ctx context.Context, fence store.Fence, emb embed.Embedder) error {
	start := time.Now()

	files, err := l.scanner.ScanAll(ctx)
	if err != nil {
		return err
	}
	stored, err := l.store.ListFiles(ctx)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	l.progress.startPass(len(paths))

	var (
		mu     sync.Mutex
		failed []string
		first  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for _, p := range paths {
		info, prev := files[p], stored[p]
		g.Go(func() error {
			res, err := l.syncFile(gctx, fence, emb, info, prev)
			if errors.Is(err, ierrors.ErrEmbeddingFailed) {
				// The rest of the pass goes on; the file keeps its
				// previous record and is retried with the next pass.
				slog.Warn("file_embed_failed", append(ierrors.LogAttrs(err), slog.String("path", p))...)
				mu.Lock()
				failed = append(failed, p)
				if first == nil {
					first = err
				}
				mu.Unlock()
				err = nil
			}
			if err != nil {
				return err
			}
			l.progress.fileDone(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	removed := 0
	for p := range stored {
		if _, ok := files[p]; ok {
			continue
		}
		if err := l.store.DeleteFile(ctx, fence, p); err != nil {
			return err
		}
		removed++
		l.progress.eventDone(syncResult{removed: true})
	}

	now := time.Now()
	if err := l.store.MarkReady(ctx, fence, now); err != nil {
		return err
	}
	l.progress.finishPass(now, time.Since(start))

	p := l.progress.snapshot()
	slog.Info("index_pass_complete",
		slog.Int("files", len(paths)),
		slog.Int("changed", p.FilesChanged),
		slog.Int("removed", removed),
		slog.Int("failed", len(failed)),
		slog.Duration("duration", time.Since(start)))

	if len(failed) > 0 {
		sort.Strings(failed)
		return ierrors.EmbeddingFailure(fmt.Sprintf("%d file(s) could not be embedded", len(failed)), first).
			WithDetail("first_file", failed[0])
	}
	return nil
}

// syncFile re-indexes one file if its content hash differs from prev.
// Size and modification time never decide on their own that a file is
// unchanged. Files that cannot be read or parsed are skipped with a
// warning; store and embedding failures are returned.
func (l *Leader) syncFile(ctx context.Context, fence store.Fence, emb embed.Embedder, info *scanner.FileInfo, prev *store.FileRecord) (syncResult, error) {
	content, err := os.ReadFile(info.AbsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if prev == nil {
				return syncResult{}, nil
			}
			return syncResult{removed: true}, l.store.DeleteFile(ctx, fence, info.Path)
		}
		slog.Warn("file_read_failed", slog.String("path", info.Path), slog.String("error", err.Error()))
		return syncResult{}, nil
	}

	hash := chunk.HashContent(content)
	rec := store.FileRecord{
		Path:         info.Path,
		LastModified: info.ModTime,
		ContentHash:  hash,
		Size:         info.Size,
	}
	if prev != nil && prev.ContentHash == hash {
		if prev.Size == info.Size && prev.LastModified.Equal(info.ModTime) {
			return syncResult{}, nil
		}
		// Touched but unchanged: refresh the stat fields only.
		old, err := l.store.ChunksByFile(ctx, info.Path)
		if err != nil {
			return syncResult{}, err
		}
		chunks := make([]store.Chunk, len(old))
		for i, c := range old {
			chunks[i] = *c
		}
		return syncResult{}, l.store.UpsertFile(ctx, fence, rec, chunks)
	}

	cands, err := l.chunker.ChunkFile(ctx, l.parser, content, info.Language)
	if err != nil {
		if ctx.Err() != nil {
			return syncResult{}, ctx.Err()
		}
		slog.Warn("file_parse_failed", slog.String("path", info.Path), slog.String("error", err.Error()))
		return syncResult{}, nil
	}

	chunks, embedded, err := l.buildChunks(ctx, emb, info, cands, prev != nil)
	if err != nil {
		return syncResult{}, err
	}
	if err := l.store.UpsertFile(ctx, fence, rec, chunks); err != nil {
		return syncResult{}, err
	}

	slog.Debug("file_indexed",
		slog.String("path", info.Path),
		slog.Int("chunks", len(chunks)),
		slog.Int("embedded", embedded))
	return syncResult{changed: true, written: len(chunks), embedded: embedded}, nil
}

// buildChunks turns candidates into store chunks, reusing the stored
// embedding of every chunk whose ID survived and embedding the rest.
func (l *Leader) buildChunks(ctx context.Context, emb embed.Embedder, info *scanner.FileInfo, cands []chunk.Candidate, known bool) ([]store.Chunk, int, error) {
	ids := chunk.IDs(info.Path, cands)

	reuse := map[string][]float32{}
	if known {
		old, err := l.store.ChunksByFile(ctx, info.Path)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range old {
			if len(c.Embedding) == emb.Dimensions() {
				reuse[c.ID] = c.Embedding
			}
		}
	}

	chunks := make([]store.Chunk, len(cands))
	var (
		missing []int
		texts   []string
	)
	for i, c := range cands {
		chunks[i] = store.Chunk{
			ID:          ids[i],
			FilePath:    info.Path,
			StartByte:   c.StartByte,
			EndByte:     c.EndByte,
			ContentHash: c.ContentHash,
			SymbolName:  c.SymbolName,
			SymbolType:  string(c.SymbolType),
			Language:    c.Language,
			Content:     c.Content,
		}
		if v, ok := reuse[ids[i]]; ok {
			chunks[i].Embedding = v
			continue
		}
		missing = append(missing, i)
		texts = append(texts, c.Content)
	}

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		vecs, err := emb.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			return nil, 0, ierrors.EmbeddingFailure("embed chunks of "+info.Path, err)
		}
		for j, v := range vecs {
			chunks[missing[start+j]].Embedding = v
		}
	}
	return chunks, len(texts), nil
}

// applyEvents syncs the files named by a watcher batch. It reports whether
// a full pass is needed instead, for directory and .gitignore changes.
func (l *Leader) applyEvents(ctx context.Context, fence store.Fence, emb embed.Embedder, batch []watcher.FileEvent) (bool, error) {
	full := false
	var deletedDirs []string

	for _, ev := range batch {
		switch {
		case ev.Operation == watcher.OpGitignoreChange:
			l.scanner.InvalidateGitignoreCache()
			full = true
			continue
		case ev.IsDir:
			full = true
			continue
		}

		info := l.scanner.Stat(ev.Path)
		if info == nil {
			// Gone or now excluded. The path may also have been a
			// directory, which Stat can no longer tell.
			if err := l.store.DeleteFile(ctx, fence, ev.Path); err != nil {
				return full, err
			}
			if ev.Operation == watcher.OpDelete || ev.Operation == watcher.OpRename {
				deletedDirs = append(deletedDirs, ev.Path+"/")
			}
			l.progress.eventDone(syncResult{removed: true})
			continue
		}

		prev, err := l.store.GetFile(ctx, ev.Path)
		if err != nil && !errors.Is(err, ierrors.ErrNotFound) {
			return full, err
		}
		res, err := l.syncFile(ctx, fence, emb, info, prev)
		if err != nil {
			return full, err
		}
		l.progress.eventDone(res)
	}

	if len(deletedDirs) > 0 {
		if err := l.removeUnder(ctx, fence, deletedDirs); err != nil {
			return full, err
		}
	}
	return full, nil
}

// removeUnder deletes every stored file below one of prefixes.
func (l *Leader) removeUnder(ctx context.Context, fence store.Fence, prefixes []string) error {
	files, err := l.store.ListFiles(ctx)
	if err != nil {
		return err
	}
	for p := range files {
		for _, prefix := range prefixes {
			if strings.HasPrefix(p, prefix) {
				if err := l.store.DeleteFile(ctx, fence, p); err != nil {
					return err
				}
				l.progress.eventDone(syncResult{removed: true})
				break
			}
		}
	}
	return nil
}
