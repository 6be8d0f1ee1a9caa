// Package store persists the shared code index in a single SQLite file per
// workspace root. Many processes open the same file: any of them may read,
// and only the holder of the current lease epoch may write.
package store

import (
	"path/filepath"
	"time"
)

const (
	// IndexDirName is the per-workspace directory holding the database.
	IndexDirName = ".swissarmyhammer"

	// DatabaseFileName is the index database inside IndexDirName.
	DatabaseFileName = "treesitter-index.db"
)

// DatabasePath returns the index database location for a workspace root.
func DatabasePath(root string) string {
	return filepath.Join(root, IndexDirName, DatabaseFileName)
}

// Chunk is a stored, embedded byte range of one file.
type Chunk struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"file_path"`
	StartByte   int       `json:"start_byte"`
	EndByte     int       `json:"end_byte"`
	ContentHash string    `json:"content_hash"`
	SymbolName  string    `json:"symbol_name,omitempty"`
	SymbolType  string    `json:"symbol_type"`
	Language    string    `json:"language"`
	Content     string    `json:"content,omitempty"`
	Embedding   []float32 `json:"-"`
}

// Len returns the byte length of the chunk.
func (c *Chunk) Len() int {
	return c.EndByte - c.StartByte
}

// Ref returns the caller-facing reference to the chunk.
func (c *Chunk) Ref() ChunkRef {
	return ChunkRef{
		ID:         c.ID,
		FilePath:   c.FilePath,
		StartByte:  c.StartByte,
		EndByte:    c.EndByte,
		SymbolName: c.SymbolName,
	}
}

// ChunkRef identifies a stored chunk and where it lives.
type ChunkRef struct {
	ID         string `json:"id"`
	FilePath   string `json:"file_path"`
	StartByte  int    `json:"start_byte"`
	EndByte    int    `json:"end_byte"`
	SymbolName string `json:"symbol_name,omitempty"`
}

// FileRecord tracks the indexed state of one source file.
type FileRecord struct {
	Path         string    `json:"path"`
	LastModified time.Time `json:"last_modified"`
	ContentHash  string    `json:"content_hash"`
	Size         int64     `json:"size"`
	ChunkIDs     []string  `json:"chunk_ids"`
}

// Fence carries the lease identity a write is issued under. The store
// rejects the write with ErrElectionLost unless it still matches the live
// lease row.
type Fence struct {
	HolderID string
	Epoch    int64
}

// Lease is the persisted leader lease.
type Lease struct {
	HolderID  string    `json:"holder_id"`
	Epoch     int64     `json:"epoch"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the lease is held at now.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// LeaseResult is the outcome of an acquisition attempt. When Granted is
// false the fields describe the current holder.
type LeaseResult struct {
	Granted   bool
	Holder    string
	Epoch     int64
	ExpiresAt time.Time
}

// IndexStatusInfo summarizes the index for status queries.
type IndexStatusInfo struct {
	Ready              bool      `json:"ready"`
	ChunkCount         int       `json:"chunk_count"`
	FileCount          int       `json:"file_count"`
	LastIndexedAt      time.Time `json:"last_indexed_at"`
	CurrentLeaderEpoch int64     `json:"current_leader_epoch"`
}

// IndexState is the single-row bookkeeping record of the index.
type IndexState struct {
	Ready          bool
	LastIndexedAt  time.Time
	EmbeddingModel string
	EmbeddingDims  int
}
