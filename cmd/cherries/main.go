// Package main provides the entry point for the cherries daemon.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Setup structured logging; flags may replace it before any work starts.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Warn("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	exitCode := run(ctx, os.Args[1:], os.Stdout)
	cancel() // Ensure cleanup before exit
	os.Exit(exitCode)
}

// run executes the command line in args and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	cmd := newRootCommand(stdout)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}
