package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/github"
	"github.com/google/uuid"
)

// ErrNoHashtags is returned when the company has no hashtags to attach to a bonus.
var ErrNoHashtags = errors.New("no company hashtags available")

// DispatchError is a failed reward for one review.
type DispatchError struct {
	Err    error
	Email  string
	Review github.Review
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("reward %s (%s) for review %d on %s: %v",
		e.Review.Reviewer, e.Email, e.Review.ID, e.Review.PR, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// reason is the bonus message; it links back to the approving review.
func reason(r github.Review) string {
	return fmt.Sprintf("for reviewing my pull request %s", r.Permalink())
}

// newBonus builds the payload for one review. The hashtag is picked at random on
// every attempt and is not remembered across retries.
func (l *Loop) newBonus(r github.Review, email string, hashtags []string) (bonusly.Bonus, error) {
	if len(hashtags) == 0 {
		return bonusly.Bonus{}, ErrNoHashtags
	}
	return bonusly.Bonus{
		GiverEmail:    l.cfg.GiverEmail,
		ReceiverEmail: email,
		Amount:        l.cfg.Amount,
		Hashtag:       hashtags[l.pick(len(hashtags))],
		Reason:        reason(r),
	}, nil
}

// DryRunRewarder logs bonuses instead of sending them.
type DryRunRewarder struct {
	Logger *slog.Logger
}

// SendBonus logs bonus and returns a synthetic reply.
func (d DryRunRewarder) SendBonus(_ context.Context, bonus bonusly.Bonus) (bonusly.BonusReply, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry run: would send bonus",
		"receiver", bonus.ReceiverEmail,
		"amount", bonus.Amount,
		"hashtag", bonus.Hashtag,
		"reason", bonus.Reason)
	return bonusly.BonusReply{ID: "dry-run-" + uuid.NewString(), Reason: bonus.Reason}, nil
}
