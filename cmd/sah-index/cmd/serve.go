package cmd

import (
	"github.com/spf13/cobra"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/mcp"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index to AI clients over MCP",
		Long: `Open the workspace and serve semantic_search, find_duplicates and
index_status over the Model Context Protocol. The process joins the election
like any other, so the server also keeps the index fresh while it leads.

Stdout carries the protocol; logs go to ~/.sah-index/logs/ only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer closeWorkspace(ws)

			server, err := mcp.NewServer(ws, g.cfg)
			if err != nil {
				return err
			}
			return server.Serve(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")
	return cmd
}
