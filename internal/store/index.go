package store

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// UpsertFile replaces the record and every chunk of one file in a single
// fenced transaction. Readers see either the old file or the new one.
func (s *SQLiteStore) UpsertFile(ctx context.Context, fence Fence, rec FileRecord, chunks []Chunk) error {
	return s.write(ctx, "upsert file", &fence, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files (path, last_modified, content_hash, size) VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				last_modified = excluded.last_modified,
				content_hash = excluded.content_hash,
				size = excluded.size`,
			rec.Path, unixNanos(rec.LastModified), rec.ContentHash, rec.Size)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, rec.Path); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO chunks
				(id, file_path, ordinal, start_byte, end_byte, content_hash, symbol_name, symbol_type, language, content, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for i := range chunks {
			c := &chunks[i]
			_, err := stmt.ExecContext(ctx,
				c.ID, rec.Path, i, c.StartByte, c.EndByte, c.ContentHash,
				c.SymbolName, c.SymbolType, c.Language, c.Content, embeddingToBytes(c.Embedding))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFile removes a file record; its chunks go with it. Deleting an
// unknown path is not an error.
func (s *SQLiteStore) DeleteFile(ctx context.Context, fence Fence, path string) error {
	return s.write(ctx, "delete file", &fence, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
		return err
	})
}

// MarkReady records a completed full pass.
func (s *SQLiteStore) MarkReady(ctx context.Context, fence Fence, at time.Time) error {
	return s.write(ctx, "mark ready", &fence, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE index_state SET ready = 1, last_indexed_at = ? WHERE id = 1`, unixNanos(at))
		return err
	})
}

// ResetIndex drops every file and chunk and clears readiness and the
// recorded embedding model.
func (s *SQLiteStore) ResetIndex(ctx context.Context, fence Fence) error {
	return s.write(ctx, "reset index", &fence, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE index_state
			SET ready = 0, last_indexed_at = 0, embedding_model = '', embedding_dims = 0
			WHERE id = 1`)
		return err
	})
}

// SetEmbeddingModel records the model the stored vectors were built with.
func (s *SQLiteStore) SetEmbeddingModel(ctx context.Context, fence Fence, model string, dims int) error {
	return s.write(ctx, "set embedding model", &fence, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE index_state SET embedding_model = ?, embedding_dims = ? WHERE id = 1`, model, dims)
		return err
	})
}

// GetIndexState returns the bookkeeping row.
func (s *SQLiteStore) GetIndexState(ctx context.Context) (*IndexState, error) {
	var st IndexState
	err := s.read(ctx, "read index state", func(tx *sql.Tx) error {
		var (
			ready int
			last  int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT ready, last_indexed_at, embedding_model, embedding_dims FROM index_state WHERE id = 1`).
			Scan(&ready, &last, &st.EmbeddingModel, &st.EmbeddingDims)
		st.Ready = ready == 1
		st.LastIndexedAt = fromUnixNanos(last)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStatus returns counts, readiness and the current lease epoch from one
// snapshot.
func (s *SQLiteStore) GetStatus(ctx context.Context) (*IndexStatusInfo, error) {
	var st IndexStatusInfo
	err := s.read(ctx, "read status", func(tx *sql.Tx) error {
		var (
			ready int
			last  int64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT ready FROM index_state WHERE id = 1),
				(SELECT last_indexed_at FROM index_state WHERE id = 1),
				(SELECT COUNT(*) FROM chunks),
				(SELECT COUNT(*) FROM files),
				COALESCE((SELECT epoch FROM lease WHERE id = 1), 0)`).
			Scan(&ready, &last, &st.ChunkCount, &st.FileCount, &st.CurrentLeaderEpoch)
		st.Ready = ready == 1
		st.LastIndexedAt = fromUnixNanos(last)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetFile returns the record for path, or ErrNotFound.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	var rec *FileRecord
	err := s.read(ctx, "read file", func(tx *sql.Tx) error {
		var (
			r   FileRecord
			mod int64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT path, last_modified, content_hash, size FROM files WHERE path = ?`, path).
			Scan(&r.Path, &mod, &r.ContentHash, &r.Size)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		r.LastModified = fromUnixNanos(mod)
		r.ChunkIDs, err = chunkIDs(ctx, tx, path)
		rec = &r
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound("file", path)
	}
	return rec, nil
}

// ListFiles returns every file record keyed by path. ChunkIDs are not
// populated.
func (s *SQLiteStore) ListFiles(ctx context.Context) (map[string]*FileRecord, error) {
	files := make(map[string]*FileRecord)
	err := s.read(ctx, "list files", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT path, last_modified, content_hash, size FROM files`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				r   FileRecord
				mod int64
			)
			if err := rows.Scan(&r.Path, &mod, &r.ContentHash, &r.Size); err != nil {
				return err
			}
			r.LastModified = fromUnixNanos(mod)
			files[r.Path] = &r
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ChunksByFile returns the chunks of one file in chunker order, with
// embeddings.
func (s *SQLiteStore) ChunksByFile(ctx context.Context, path string) ([]*Chunk, error) {
	var out []*Chunk
	err := s.read(ctx, "read file chunks", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectChunk+` WHERE file_path = ? ORDER BY ordinal`, path)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			c, err := scanChunk(rows, true)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// ReadChunk returns one chunk with its embedding, or ErrNotFound.
func (s *SQLiteStore) ReadChunk(ctx context.Context, id string) (*Chunk, error) {
	var c *Chunk
	err := s.read(ctx, "read chunk", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, selectChunk+` WHERE id = ?`, id)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		if rows.Next() {
			c, err = scanChunk(rows, true)
			if err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("chunk", id)
	}
	return c, nil
}

// ScanChunks yields every stored chunk, with content and embedding, in ID
// order. Each range over the sequence runs in its own read transaction, so
// one pass sees a single consistent snapshot and the sequence can be
// ranged over again. Stopping early releases the transaction.
func (s *SQLiteStore) ScanChunks(ctx context.Context) iter.Seq2[*Chunk, error] {
	return s.scan(ctx, selectChunk+` ORDER BY id`, true)
}

// ScanVectors is ScanChunks without chunk content, for scoring passes.
func (s *SQLiteStore) ScanVectors(ctx context.Context) iter.Seq2[*Chunk, error] {
	return s.scan(ctx, selectVector+` ORDER BY id`, false)
}

func (s *SQLiteStore) scan(ctx context.Context, query string, withContent bool) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		// No busy retry here: rows already yielded cannot be taken back.
		tx, err := s.reader.BeginTx(ctx, nil)
		if err != nil {
			yield(nil, s.classify("scan chunks", err))
			return
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			yield(nil, s.classify("scan chunks", err))
			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			c, err := scanChunk(rows, withContent)
			if err != nil {
				yield(nil, s.classify("scan chunks", err))
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, s.classify("scan chunks", err))
		}
	}
}

const (
	selectChunk = `SELECT id, file_path, start_byte, end_byte, content_hash, symbol_name, symbol_type, language, content, embedding FROM chunks`

	selectVector = `SELECT id, file_path, start_byte, end_byte, content_hash, symbol_name, symbol_type, language, '', embedding FROM chunks`
)

func scanChunk(rows *sql.Rows, withContent bool) (*Chunk, error) {
	var (
		c   Chunk
		emb []byte
	)
	err := rows.Scan(&c.ID, &c.FilePath, &c.StartByte, &c.EndByte, &c.ContentHash,
		&c.SymbolName, &c.SymbolType, &c.Language, &c.Content, &emb)
	if err != nil {
		return nil, err
	}
	if !withContent {
		c.Content = ""
	}
	c.Embedding = bytesToEmbedding(emb)
	return &c, nil
}

func chunkIDs(ctx context.Context, tx *sql.Tx, path string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE file_path = ? ORDER BY ordinal`, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func notFound(kind, key string) error {
	return ierrors.New(ierrors.ErrCodeNotFound, kind+" not found", nil).WithDetail(kind, key)
}
