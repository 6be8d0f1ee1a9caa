package cmd

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/logging"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View sah-index logs",
		Long: `Show the last lines of the sah-index log, optionally following new
entries like 'tail -f'.

Examples:
  sah-index logs                     # last 50 entries
  sah-index logs -f                  # follow
  sah-index logs --level warn        # warnings and errors only
  sah-index logs --filter lease_     # election events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only entries matching this regex")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}
	if opts.level != "" && !logging.ValidLevel(opts.level) {
		return fmt.Errorf("invalid level %q (want debug, info, warn or error)", opts.level)
	}

	filter := logging.Filter{Level: opts.level}
	if opts.filter != "" {
		if filter.Pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	status := output.New(cmd.ErrOrStderr())
	status.Dim("Log file: " + path)

	entries, err := logging.Tail(path, opts.lines, filter)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		_, _ = fmt.Fprintln(out, e.Format())
	}
	if !opts.follow {
		return nil
	}

	status.Dim("Following... (Ctrl+C to stop)")
	return logging.Follow(cmd.Context(), path, filter, 250*time.Millisecond, func(e logging.Entry) {
		_, _ = fmt.Fprintln(out, e.Format())
	})
}
