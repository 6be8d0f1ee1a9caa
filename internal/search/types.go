package search

import (
	"context"
	"iter"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/embed"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// SimilarChunk is one semantic search hit.
type SimilarChunk struct {
	Chunk store.ChunkRef `json:"chunk"`
	// Score is the cosine similarity clamped to [0,1].
	Score float64 `json:"score"`
	// Content is the chunk text, when it could still be read.
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// DuplicateCluster is a group of chunks connected by pairwise similarity
// at or above the threshold. Connection is transitive, so two members may
// be less similar than the threshold; MinPairwiseSimilarity reports the
// weakest pair. For clusters above Options.ClusterPairLimit it is the
// weakest of a fixed sample of pairs and MinSimilaritySampled is set, so
// the true minimum may be lower.
type DuplicateCluster struct {
	Members               []store.ChunkRef `json:"members"`
	MinPairwiseSimilarity float64          `json:"min_pairwise_similarity"`
	MinSimilaritySampled  bool             `json:"min_similarity_sampled,omitempty"`
}

// Reader is the read side of the index store used by queries.
type Reader interface {
	ScanVectors(ctx context.Context) iter.Seq2[*store.Chunk, error]
	ReadChunk(ctx context.Context, id string) (*store.Chunk, error)
}

// EmbedderSource hands out the process embedding backend.
type EmbedderSource interface {
	Get(ctx context.Context) (embed.Embedder, error)
}

// Options configures an Engine.
type Options struct {
	// ExactPairLimit is the largest corpus compared exhaustively during
	// duplicate detection. Larger corpora take candidate pairs from an
	// HNSW graph.
	ExactPairLimit int

	// Workers bounds parallel pairwise comparison.
	Workers int

	// Neighbors is how many approximate neighbours each chunk is checked
	// against above ExactPairLimit.
	Neighbors int

	// ClusterPairLimit is the largest cluster whose weakest pair is found
	// over all member pairs. Larger clusters compare each member with
	// clusterSamplesPerMember evenly spaced partners.
	ClusterPairLimit int
}

const (
	DefaultExactPairLimit   = 5000
	DefaultNeighbors        = 16
	DefaultClusterPairLimit = 512
)
