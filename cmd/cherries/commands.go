package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogFormat  string // "json" | "text"
	LogLevel   string
	DryRun     bool
}

// newRootCommand creates the cherries CLI. Command output goes to stdout; logs go
// to stderr.
func newRootCommand(stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cherries",
		Short: "Reward pull request reviewers with Bonusly cherries",
		Long: `cherries watches GitHub for approvals of a tracked author's pull requests
and sends each approving reviewer a Bonusly bonus, once per pull request.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			logger, err := newLogger(opts.LogFormat, opts.LogLevel, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "cherries.toml", "path to the config file (.toml or .yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "log format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newOnceCommand(opts))
	cmd.AddCommand(newResolveCommand(opts, stdout))

	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll, reward and persist until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log bonuses instead of sending them and keep state in memory")
	return cmd
}

func newOnceCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and exit",
		Long:  "Run a single cycle and exit. The exit code is non-zero if any part of the cycle failed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log bonuses instead of sending them and keep state in memory")
	return cmd
}

func newResolveCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <github-login>",
		Short: "Show which Bonusly email a GitHub user resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), opts, args[0], stdout)
		},
	}
}

// newLogger builds the process logger from the log flags.
func newLogger(format, level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be json or text", format)
	}
}
