package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/output"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

// statusReport is the status command's JSON shape.
type statusReport struct {
	Root          string       `json:"root"`
	Database      string       `json:"database"`
	DatabaseBytes int64        `json:"database_bytes"`
	Ready         bool         `json:"ready"`
	FileCount     int          `json:"file_count"`
	ChunkCount    int          `json:"chunk_count"`
	LastIndexedAt *time.Time   `json:"last_indexed_at,omitempty"`
	LeaderEpoch   int64        `json:"leader_epoch"`
	Model         string       `json:"embedding_model,omitempty"`
	Dimensions    int          `json:"embedding_dims,omitempty"`
	Lease         *store.Lease `json:"lease,omitempty"`
	LeaseLive     bool         `json:"lease_live"`
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index readiness and the current leader",
		Long: `Show whether the workspace index is ready, how many files and chunks it
holds, and which process currently holds the leader lease.

Status reads the shared database directly and never joins the election.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := readStatus(cmd.Context(), g.root)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(report)
			}
			renderStatus(out, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func readStatus(ctx context.Context, root string) (*statusReport, error) {
	dbPath := store.DatabasePath(root)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeNotFound, "no index found for workspace", err).
			WithDetail("root", root).
			WithSuggestion("run 'sah-index index' to build it")
	}

	s, err := store.Open(ctx, dbPath, store.Options{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()

	st, err := s.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	state, err := s.GetIndexState(ctx)
	if err != nil {
		return nil, err
	}
	lease, err := s.GetLease(ctx)
	if err != nil {
		return nil, err
	}

	report := &statusReport{
		Root:          root,
		Database:      s.Path(),
		DatabaseBytes: s.Size(),
		Ready:         st.Ready,
		FileCount:     st.FileCount,
		ChunkCount:    st.ChunkCount,
		LeaderEpoch:   st.CurrentLeaderEpoch,
		Model:         state.EmbeddingModel,
		Dimensions:    state.EmbeddingDims,
		Lease:         lease,
		LeaseLive:     lease.Live(time.Now()),
	}
	if !st.LastIndexedAt.IsZero() {
		t := st.LastIndexedAt
		report.LastIndexedAt = &t
	}
	return report, nil
}

func renderStatus(out *output.Writer, r *statusReport) {
	out.Header("Index status")
	if r.Ready {
		out.Success("Ready")
	} else {
		out.Warning("Not ready: first indexing pass has not completed")
	}
	out.KeyValue("Root", r.Root)
	out.KeyValue("Files", r.FileCount)
	out.KeyValue("Chunks", r.ChunkCount)
	var last time.Time
	if r.LastIndexedAt != nil {
		last = *r.LastIndexedAt
	}
	out.KeyValue("Last indexed", store.FormatTime(last))
	if r.Model != "" {
		out.KeyValue("Model", r.Model)
		out.KeyValue("Dimensions", r.Dimensions)
	}
	out.KeyValue("Database", store.FormatBytes(r.DatabaseBytes))
	out.KeyValue("Leader epoch", r.LeaderEpoch)
	switch {
	case r.Lease == nil:
		out.KeyValue("Leader", "none")
	case r.LeaseLive:
		out.KeyValue("Leader", r.Lease.HolderID)
	default:
		out.KeyValue("Leader", "none (lease expired or released)")
	}
}
