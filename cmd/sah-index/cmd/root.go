// Package cmd provides the CLI commands for sah-index.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/config"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/embed"
	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/logging"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/output"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/profiling"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/workspace"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/pkg/version"
)

// globalOptions holds persistent flags and the state resolved from them.
type globalOptions struct {
	rootFlag string
	debug    bool
	profile  profiling.Options

	root           string
	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the sah-index CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "sah-index",
		Short: "Shared semantic code index for a workspace",
		Long: `sah-index maintains a semantic index of the source files under a
workspace root. Any number of processes may open the same workspace: one is
elected leader and keeps the index fresh, the rest answer queries from the
shared database and take over if the leader goes away.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("sah-index version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.rootFlag, "root", "C", "", "Workspace root (default: nearest directory with .git or "+config.ProjectConfigName+")")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.sah-index/logs/ and stderr")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return opts.setup(c)
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return opts.teardown()
	}

	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newDuplicatesCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints any error to stderr.
func Execute(ctx context.Context) error {
	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, ierrors.FormatForCLI(err))
	}
	return err
}

// setup resolves the workspace root, loads its configuration and installs
// the logger. Serve logs to the file only since stdout and stderr belong
// to the protocol.
func (o *globalOptions) setup(cmd *cobra.Command) error {
	if o.profile.Enabled() {
		p, err := profiling.Start(o.profile)
		if err != nil {
			return err
		}
		o.profiler = p
	}
	if cmd.Name() == "version" || cmd.Name() == "logs" {
		return nil
	}

	root := o.rootFlag
	if root == "" {
		found, err := config.FindProjectRoot(".")
		if err != nil {
			return err
		}
		root = found
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	o.root, o.cfg = root, cfg

	logCfg := logging.ServeConfig(cfg.Log.Level)
	if o.debug {
		logCfg = logging.DebugConfig()
		logCfg.WriteToStderr = cmd.Name() != "serve"
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	o.loggingCleanup = cleanup
	return nil
}

func (o *globalOptions) teardown() error {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	if o.profiler != nil {
		err := o.profiler.Stop()
		o.profiler = nil
		return err
	}
	return nil
}

// openWorkspace opens the resolved workspace and joins the election.
func (o *globalOptions) openWorkspace(ctx context.Context) (*workspace.Workspace, error) {
	return workspace.Open(ctx, o.root, workspace.Options{
		Config:    o.cfg,
		Embedders: embed.ProcessBackend(o.cfg.Embeddings),
	})
}

// closeWorkspace releases the workspace with a bounded timeout.
func closeWorkspace(ws *workspace.Workspace) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Close(ctx); err != nil {
		slog.Warn("workspace_close_failed", ierrors.LogAttrs(err)...)
	}
}

// waitForIndex blocks until the index is ready, drawing the leader's
// progress on a terminal. A zero timeout waits until ctx is done.
func waitForIndex(ctx context.Context, cmd *cobra.Command, ws *workspace.Workspace, timeout time.Duration) (*store.IndexStatusInfo, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	progress := output.New(cmd.ErrOrStderr())
	showProgress := progress.UseColor()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := ws.Status(ctx)
		if err != nil {
			return nil, err
		}
		if st.Ready {
			return st, nil
		}
		if showProgress && ws.Role() == workspace.RoleLeader {
			p := ws.Progress()
			if p.FilesTotal > 0 && p.FilesProcessed < p.FilesTotal {
				progress.Progress(p.FilesProcessed, p.FilesTotal, "Indexing")
			}
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ierrors.NotReady().WithDetail("waited", timeout.String())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
