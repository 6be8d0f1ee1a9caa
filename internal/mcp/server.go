package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/index"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/search"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/workspace"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/pkg/version"
)

// ServerName is the implementation name reported to clients.
const ServerName = "sah-index"

// Workspace is the query surface the server exposes.
type Workspace interface {
	Root() string
	Role() workspace.Role
	Progress() index.Progress
	Status(ctx context.Context) (*store.IndexStatusInfo, error)
	SemanticSearch(ctx context.Context, query string, topK int, minScore float64) ([]search.SimilarChunk, error)
	FindAllDuplicates(ctx context.Context, minSimilarity float64, minChunkBytes int) ([]search.DuplicateCluster, error)
}

// Server is the MCP server for one workspace.
type Server struct {
	mcp    *mcp.Server
	ws     Workspace
	search config.SearchConfig
	logger *slog.Logger
}

// NewServer creates a new MCP server. Query defaults come from cfg.Search.
func NewServer(ws Workspace, cfg *config.Config) (*Server, error) {
	if ws == nil {
		return nil, errors.New("workspace is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		ws:     ws,
		search: cfg.Search,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolSemanticSearch,
		Description: "Find code by meaning. Returns the indexed chunks most similar to the query, " +
			"ordered by cosine similarity. Fails with a not-ready error until index_status reports ready.",
	}, s.mcpSemanticSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolFindDuplicates,
		Description: "Group near-identical code chunks across the workspace. Clusters are transitive, " +
			"so min_pairwise_similarity reports the weakest pair in each.",
	}, s.mcpFindDuplicatesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexStatus,
		Description: "Report whether the index is ready, its file and chunk counts, and the current leader epoch.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 3))
}

// SemanticSearch runs the semantic_search tool.
func (s *Server) SemanticSearch(ctx context.Context, input SemanticSearchInput) (SemanticSearchOutput, error) {
	topK := clampTopK(input.TopK, s.search.TopK)
	minScore := s.search.MinScore
	if input.MinScore != nil {
		minScore = *input.MinScore
	}

	var out SemanticSearchOutput
	err := s.logCall(ctx, ToolSemanticSearch, func() (int, error) {
		hits, err := s.ws.SemanticSearch(ctx, input.Query, topK, minScore)
		if err != nil {
			return 0, err
		}
		out = SemanticSearchOutput{Query: input.Query, Results: make([]SearchResultOutput, 0, len(hits))}
		for _, h := range hits {
			out.Results = append(out.Results, toSearchResultOutput(h))
		}
		return len(hits), nil
	})
	return out, err
}

// FindDuplicates runs the find_duplicates tool.
func (s *Server) FindDuplicates(ctx context.Context, input FindDuplicatesInput) (FindDuplicatesOutput, error) {
	minSim := s.search.DuplicateThreshold
	if input.MinSimilarity != nil {
		minSim = *input.MinSimilarity
	}
	minBytes := s.search.DuplicateMinBytes
	if input.MinChunkBytes != nil {
		minBytes = *input.MinChunkBytes
	}

	var out FindDuplicatesOutput
	err := s.logCall(ctx, ToolFindDuplicates, func() (int, error) {
		clusters, err := s.ws.FindAllDuplicates(ctx, minSim, minBytes)
		if err != nil {
			return 0, err
		}
		out = FindDuplicatesOutput{Clusters: make([]ClusterOutput, 0, len(clusters))}
		for _, c := range clusters {
			out.Clusters = append(out.Clusters, toClusterOutput(c))
		}
		return len(clusters), nil
	})
	return out, err
}

// IndexStatus runs the index_status tool.
func (s *Server) IndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	var out *IndexStatusOutput
	err := s.logCall(ctx, ToolIndexStatus, func() (int, error) {
		st, err := s.ws.Status(ctx)
		if err != nil {
			return 0, err
		}
		role := s.ws.Role()
		out = &IndexStatusOutput{
			Root:        s.ws.Root(),
			Role:        string(role),
			Ready:       st.Ready,
			FileCount:   st.FileCount,
			ChunkCount:  st.ChunkCount,
			LeaderEpoch: st.CurrentLeaderEpoch,
		}
		if !st.LastIndexedAt.IsZero() {
			out.LastIndexedAt = st.LastIndexedAt.UTC().Format(time.RFC3339)
		}
		if role == workspace.RoleLeader {
			p := s.ws.Progress()
			out.Indexing = &p
		}
		return 1, nil
	})
	return out, err
}

// logCall times fn, logs the outcome and maps failures to MCP errors.
func (s *Server) logCall(ctx context.Context, tool string, fn func() (int, error)) error {
	start := time.Now()
	requestID := generateRequestID()

	n, err := fn()
	duration := time.Since(start)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ierrors.ErrNotReady) || errors.Is(err, ierrors.ErrInvalidQuery) {
			level = slog.LevelInfo
		}
		s.logger.Log(ctx, level, "mcp_tool_failed",
			append(ierrors.LogAttrs(err),
				slog.String("request_id", requestID),
				slog.String("tool", tool),
				slog.Duration("duration", duration))...)
		return MapError(err)
	}

	s.logger.Info("mcp_tool_completed",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.Duration("duration", duration),
		slog.Int("result_count", n))
	return nil
}

func (s *Server) mcpSemanticSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SemanticSearchInput) (
	*mcp.CallToolResult,
	SemanticSearchOutput,
	error,
) {
	out, err := s.SemanticSearch(ctx, input)
	if err != nil {
		return nil, SemanticSearchOutput{}, err
	}
	return textResult(FormatSearchResults(out)), out, nil
}

func (s *Server) mcpFindDuplicatesHandler(ctx context.Context, _ *mcp.CallToolRequest, input FindDuplicatesInput) (
	*mcp.CallToolResult,
	FindDuplicatesOutput,
	error,
) {
	out, err := s.FindDuplicates(ctx, input)
	if err != nil {
		return nil, FindDuplicatesOutput{}, err
	}
	return textResult(FormatDuplicates(out)), out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.IndexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("root", s.ws.Root()))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
