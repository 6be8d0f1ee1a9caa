package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/output"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK     int
	minScore float64
	json     bool
	wait     time.Duration
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the chunks most similar to a query",
		Long: `Embed the query and rank every indexed chunk by cosine similarity.

If no process is indexing the workspace, this one becomes leader and builds
the index first.

Examples:
  sah-index search "open a database connection"
  sah-index search "retry with backoff" --top-k 5 --min-score 0.5
  sah-index search "parse config" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			topK, minScore := g.cfg.Search.TopK, g.cfg.Search.MinScore
			if cmd.Flags().Changed("top-k") {
				topK = opts.topK
			}
			if cmd.Flags().Changed("min-score") {
				minScore = opts.minScore
			}

			ws, err := g.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer closeWorkspace(ws)

			if _, err := waitForIndex(cmd.Context(), cmd, ws, opts.wait); err != nil {
				return err
			}
			hits, err := ws.SemanticSearch(cmd.Context(), query, topK, minScore)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if opts.json {
				if hits == nil {
					hits = []search.SimilarChunk{}
				}
				return out.JSON(hits)
			}
			renderSearchResults(out, query, hits)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 10, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Minimum cosine similarity in [0,1] (default from config)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")
	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Minute, "How long to wait for the index to become ready (0 waits forever)")

	return cmd
}

func renderSearchResults(out *output.Writer, query string, hits []search.SimilarChunk) {
	if len(hits) == 0 {
		out.Warningf("No results for %q", query)
		return
	}
	out.Header(fmt.Sprintf("%d result(s) for %q", len(hits), query))
	for i, h := range hits {
		out.Newline()
		title := fmt.Sprintf("%d. %s [%d:%d]", i+1, h.Chunk.FilePath, h.Chunk.StartByte, h.Chunk.EndByte)
		if h.Chunk.SymbolName != "" {
			title += " " + h.Chunk.SymbolName
		}
		out.Statusf("", "%s  score %.3f", title, h.Score)
		if h.Content == "" {
			out.Dim("   (content changed since indexing)")
			continue
		}
		out.Code(strings.TrimRight(h.Content, "\n"))
	}
}
