package mcp

import (
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/index"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/search"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// Tool names.
const (
	ToolSemanticSearch = "semantic_search"
	ToolFindDuplicates = "find_duplicates"
	ToolIndexStatus    = "index_status"
)

// maxTopK caps the number of search results a client may request.
const maxTopK = 100

// SemanticSearchInput defines the input schema for the semantic_search tool.
type SemanticSearchInput struct {
	Query    string   `json:"query" jsonschema:"natural language or code describing what to find"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default from config"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"minimum cosine similarity between 0 and 1"`
}

// SemanticSearchOutput defines the output schema for the semantic_search tool.
type SemanticSearchOutput struct {
	Query   string               `json:"query"`
	Results []SearchResultOutput `json:"results" jsonschema:"hits ordered by score descending"`
}

// SearchResultOutput is one search hit.
type SearchResultOutput struct {
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path" jsonschema:"file path relative to the workspace root"`
	StartByte int     `json:"start_byte"`
	EndByte   int     `json:"end_byte"`
	Symbol    string  `json:"symbol,omitempty"`
	Language  string  `json:"language,omitempty"`
	Score     float64 `json:"score" jsonschema:"cosine similarity between 0 and 1"`
	Content   string  `json:"content,omitempty"`
}

// FindDuplicatesInput defines the input schema for the find_duplicates tool.
type FindDuplicatesInput struct {
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"pairwise similarity threshold between 0 and 1"`
	MinChunkBytes *int     `json:"min_chunk_bytes,omitempty" jsonschema:"ignore chunks shorter than this many bytes"`
}

// FindDuplicatesOutput defines the output schema for the find_duplicates tool.
type FindDuplicatesOutput struct {
	Clusters []ClusterOutput `json:"clusters" jsonschema:"clusters ordered by size descending"`
}

// ClusterOutput is one group of near-duplicate chunks.
type ClusterOutput struct {
	Size                  int              `json:"size"`
	MinPairwiseSimilarity float64          `json:"min_pairwise_similarity"`
	MinSimilaritySampled  bool             `json:"min_similarity_sampled,omitempty"`
	Members               []store.ChunkRef `json:"members"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Root          string          `json:"root"`
	Role          string          `json:"role" jsonschema:"leader if this process maintains the index"`
	Ready         bool            `json:"ready" jsonschema:"true once queries can be answered"`
	FileCount     int             `json:"file_count"`
	ChunkCount    int             `json:"chunk_count"`
	LastIndexedAt string          `json:"last_indexed_at,omitempty"`
	LeaderEpoch   int64           `json:"leader_epoch"`
	Indexing      *index.Progress `json:"indexing,omitempty" jsonschema:"present while this process leads"`
}

func toSearchResultOutput(r search.SimilarChunk) SearchResultOutput {
	return SearchResultOutput{
		ChunkID:   r.Chunk.ID,
		FilePath:  r.Chunk.FilePath,
		StartByte: r.Chunk.StartByte,
		EndByte:   r.Chunk.EndByte,
		Symbol:    r.Chunk.SymbolName,
		Language:  r.Language,
		Score:     r.Score,
		Content:   r.Content,
	}
}

func toClusterOutput(c search.DuplicateCluster) ClusterOutput {
	return ClusterOutput{
		Size:                  len(c.Members),
		MinPairwiseSimilarity: c.MinPairwiseSimilarity,
		MinSimilaritySampled:  c.MinSimilaritySampled,
		Members:               c.Members,
	}
}
