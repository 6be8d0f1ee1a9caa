package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/output"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/workspace"
)

func newIndexCmd(g *globalOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the index and keep it fresh",
		Long: `Join the election for the workspace and, once leader, index every
supported file and then follow changes until interrupted. While another
process leads, this one waits and takes over if that leader goes away.

With --wait the command returns as soon as the index is ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			ws, err := g.openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer closeWorkspace(ws)

			if ws.Role() == workspace.RoleLeader {
				out.Statusf(">", "Indexing %s as leader", ws.Root())
			} else {
				out.Statusf(">", "Another process is indexing %s; waiting", ws.Root())
			}

			st, err := waitForIndex(ctx, cmd, ws, 0)
			if err != nil {
				return err
			}
			renderIndexReady(out, st)
			if wait {
				return nil
			}

			out.Status("", "Watching for changes, press Ctrl-C to stop")
			<-ctx.Done()
			slog.Info("index_command_interrupted", slog.String("root", ws.Root()))
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Exit once the index is ready instead of watching for changes")
	return cmd
}

func renderIndexReady(out *output.Writer, st *store.IndexStatusInfo) {
	out.Successf("Index ready: %d files, %d chunks (leader epoch %d)", st.FileCount, st.ChunkCount, st.CurrentLeaderEpoch)
}
