// Package dispatch drives the poll, reconcile, reward, persist cycle.
package dispatch

import (
	"context"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/reconcile"
	"github.com/codeGROOVE-dev/cherries/internal/state"
)

// Reconciler finds and classifies candidate reviews.
type Reconciler interface {
	Discover(ctx context.Context, st *state.State) (reconcile.Candidates, error)
	Classify(st *state.State, found reconcile.Candidates) []reconcile.Decision
}

// Rewarder creates bonuses. Implementations must not retry internally.
type Rewarder interface {
	SendBonus(ctx context.Context, bonus bonusly.Bonus) (bonusly.BonusReply, error)
}

// Directory lists recognition accounts and company hashtags.
type Directory interface {
	Users(ctx context.Context) ([]bonusly.User, error)
	Hashtags(ctx context.Context) ([]string, error)
}

// Notifier tells the operator that a reward went out.
type Notifier interface {
	Notify(ctx context.Context, summary, body string) error
}
