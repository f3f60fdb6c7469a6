// Package notify sends desktop notifications when a reward goes out.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Desktop delivers notifications through the platform's notifier, optionally as
// another local user (the daemon usually runs as root or a service account).
type Desktop struct {
	logger *slog.Logger
	run    Runner
	user   string
}

// New returns a notifier that shows notifications to user. An empty user means
// the current one.
func New(user string, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{user: user, logger: logger, run: runCommand}
}

// WithRunner replaces command execution, for tests.
func (d *Desktop) WithRunner(run Runner) *Desktop {
	d.run = run
	return d
}

// Notify shows summary and body. Platforms without a notifier only log.
func (d *Desktop) Notify(ctx context.Context, summary, body string) error {
	name, args := command(d.user, summary, body)
	if name == "" {
		d.logger.Info("notification", "summary", summary, "body", body)
		return nil
	}

	out, err := d.run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	d.logger.Debug("sent notification", "user", d.user, "summary", summary)
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
