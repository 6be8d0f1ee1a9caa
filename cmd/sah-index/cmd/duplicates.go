package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/output"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/search"
)

func newDuplicatesCmd(g *globalOptions) *cobra.Command {
	var (
		minSimilarity float64
		minBytes      int
		jsonOutput    bool
		wait          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Group near-identical chunks across the workspace",
		Long: `Cluster chunks whose embeddings are at least --min-similarity apart.
Clusters are transitive: each reports the similarity of its weakest pair.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			threshold, size := g.cfg.Search.DuplicateThreshold, g.cfg.Search.DuplicateMinBytes
			if cmd.Flags().Changed("min-similarity") {
				threshold = minSimilarity
			}
			if cmd.Flags().Changed("min-bytes") {
				size = minBytes
			}

			ws, err := g.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer closeWorkspace(ws)

			if _, err := waitForIndex(cmd.Context(), cmd, ws, wait); err != nil {
				return err
			}
			clusters, err := ws.FindAllDuplicates(cmd.Context(), threshold, size)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				if clusters == nil {
					clusters = []search.DuplicateCluster{}
				}
				return out.JSON(clusters)
			}
			renderClusters(out, clusters)
			return nil
		},
	}

	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0.95, "Pairwise similarity threshold in [0,1] (default from config)")
	cmd.Flags().IntVar(&minBytes, "min-bytes", 100, "Ignore chunks shorter than this (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output clusters as JSON")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "How long to wait for the index to become ready (0 waits forever)")

	return cmd
}

func renderClusters(out *output.Writer, clusters []search.DuplicateCluster) {
	if len(clusters) == 0 {
		out.Success("No duplicate clusters found")
		return
	}
	out.Header(fmt.Sprintf("%d duplicate cluster(s)", len(clusters)))
	for i, c := range clusters {
		out.Newline()
		line := fmt.Sprintf("%d. %d chunks, min similarity %.3f", i+1, len(c.Members), c.MinPairwiseSimilarity)
		if c.MinSimilaritySampled {
			line += " (sampled)"
		}
		out.Status("", line)
		for _, m := range c.Members {
			line := fmt.Sprintf("     %s [%d:%d]", m.FilePath, m.StartByte, m.EndByte)
			if m.SymbolName != "" {
				line += " " + m.SymbolName
			}
			out.Dim(line)
		}
	}
}
