package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/cherries/internal/reconcile"
	"github.com/codeGROOVE-dev/cherries/internal/state"
	"github.com/google/uuid"
)

// Cycle results reported by Status.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Status describes the most recent cycle.
type Status struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	CycleID  string    `json:"cycle_id,omitempty"`
	Result   string    `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
	Sent     int       `json:"sent"`
	Replied  int       `json:"replied"`
	Pending  int       `json:"pending"`
	Cycles   int       `json:"cycles"`
}

// Settings are the tunables of the loop.
type Settings struct {
	GiverEmail      string
	Amount          int
	PollInterval    time.Duration
	DirectoryMaxAge time.Duration
	DispatchPause   time.Duration
}

// LoopConfig holds the dependencies for creating a loop.
// Notifier is optional. Now, Sleep and Pick default to the wall clock, a
// context-aware sleep and math/rand.
type LoopConfig struct {
	Reconciler Reconciler
	Rewarder   Rewarder
	Directory  Directory
	Store      state.Store
	Notifier   Notifier
	Logger     *slog.Logger
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
	Pick       func(n int) int
	Settings   Settings
}

// Loop owns the program state for the lifetime of the daemon.
type Loop struct {
	reconciler Reconciler
	rewarder   Rewarder
	directory  Directory
	store      state.Store
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	pick       func(n int) int
	status     Status
	cfg        Settings
	mu         sync.RWMutex
}

// New creates a loop.
func New(cfg LoopConfig) *Loop {
	l := &Loop{
		reconciler: cfg.Reconciler,
		rewarder:   cfg.Rewarder,
		directory:  cfg.Directory,
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		logger:     cfg.Logger,
		now:        cfg.Now,
		sleep:      cfg.Sleep,
		pick:       cfg.Pick,
		cfg:        cfg.Settings,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepContext
	}
	if l.pick == nil {
		l.pick = rand.IntN
	}
	return l
}

// Bootstrap loads saved state, or creates fresh state scanning back one poll interval,
// fetches the directory for it and saves it immediately.
func (l *Loop) Bootstrap(ctx context.Context) (*state.State, error) {
	st, err := l.store.Load(ctx)
	if err == nil {
		l.logger.Info("loaded state",
			"cutoff", st.Cutoff,
			"replied", len(st.Replied),
			"pending", len(st.Pending),
			"directory_users", len(st.DirectoryUsers))
		return st, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("load state: %w", err)
	}

	now := l.now()
	st = state.New(now.Add(-l.cfg.PollInterval))
	if err := l.refreshDirectory(ctx, st, now); err != nil {
		return nil, fmt.Errorf("initial directory fetch: %w", err)
	}
	if err := l.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}

	l.logger.Info("created fresh state",
		"cutoff", st.Cutoff,
		"directory_users", len(st.DirectoryUsers),
		"hashtags", len(st.Hashtags))
	return st, nil
}

// Run executes cycles until ctx is cancelled, pausing one poll interval after each.
// Cycle errors are logged, never returned.
func (l *Loop) Run(ctx context.Context, st *state.State) error {
	for {
		if err := l.RunCycle(ctx, st); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("cycle interrupted by shutdown", "error", err)
				return nil
			}
			l.logger.Error("cycle finished with errors", "error", err)
		}

		l.logger.Debug("sleeping until next cycle", "interval", l.cfg.PollInterval)
		if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
			l.logger.Info("stopping dispatch loop")
			return nil
		}
	}
}

// RunCycle performs one discovery and dispatch pass over st and persists it.
//
// A failed discovery saves st without advancing the cutoff. Otherwise every
// decision is attempted, dispatch failures go back to pending, the directory is
// refreshed when stale, the cutoff advances to the cycle start and st is saved.
// All failures are returned joined, after the save.
func (l *Loop) RunCycle(ctx context.Context, st *state.State) error {
	cycleID := uuid.NewString()
	logger := l.logger.With("cycle_id", cycleID)
	started := l.now()
	l.setStatus(func(s *Status) {
		s.CycleID = cycleID
		s.Started = started
	})

	logger.Info("starting cycle", "cutoff", st.Cutoff, "pending", len(st.Pending))

	found, err := l.reconciler.Discover(ctx, st)
	if err != nil {
		err = fmt.Errorf("discover reviews: %w", err)
		return l.finish(ctx, logger, st, 0, err)
	}

	var errs []error
	sent, interrupted := l.dispatchAll(ctx, logger, st, l.reconciler.Classify(st, found), &errs)

	if interrupted {
		errs = append(errs, ctx.Err())
	} else {
		now := l.now()
		if st.DirectoryStale(now, l.cfg.DirectoryMaxAge) {
			if err := l.refreshDirectory(ctx, st, now); err != nil {
				errs = append(errs, fmt.Errorf("refresh directory: %w", err))
			}
		}
		if st.AdvanceCutoff(started) {
			logger.Debug("advanced cutoff", "cutoff", st.Cutoff)
		}
	}

	return l.finish(ctx, logger, st, sent, errors.Join(errs...))
}

// dispatchAll walks decisions in order. It stops early only when ctx is cancelled,
// in which case the cutoff must not advance.
func (l *Loop) dispatchAll(
	ctx context.Context, logger *slog.Logger, st *state.State, decisions []reconcile.Decision, errs *[]error,
) (sent int, interrupted bool) {
	for _, d := range decisions {
		r := d.Review
		log := logger.With("pr", r.PR.String(), "reviewer", r.Reviewer, "review_id", r.ID)

		if st.HasReplied(r.PR, r.Reviewer) {
			log.Debug("already rewarded, skipping")
			continue
		}

		pending := state.PendingReview{PR: r.PR, Reviewer: r.Reviewer, ReviewID: r.ID}
		if !d.Dispatchable() {
			st.AddPending(pending)
			log.Info("no email for reviewer, keeping pending", "name", d.Member.Name)
			continue
		}

		if err := l.dispatch(ctx, log, st, d); err != nil {
			st.AddPending(pending)
			*errs = append(*errs, err)
		} else {
			sent++
		}

		if err := l.sleep(ctx, l.cfg.DispatchPause); err != nil {
			return sent, true
		}
	}
	return sent, false
}

func (l *Loop) dispatch(ctx context.Context, log *slog.Logger, st *state.State, d reconcile.Decision) error {
	bonus, err := l.newBonus(d.Review, d.Email, st.Hashtags)
	if err != nil {
		log.Warn("cannot build bonus", "email", d.Email, "error", err)
		return &DispatchError{Review: d.Review, Email: d.Email, Err: err}
	}

	reply, err := l.rewarder.SendBonus(ctx, bonus)
	if err != nil {
		log.Warn("failed to send bonus", "email", d.Email, "error", err)
		return &DispatchError{Review: d.Review, Email: d.Email, Err: err}
	}

	st.MarkReplied(d.Review.PR, d.Review.Reviewer)
	log.Info("sent bonus",
		"email", d.Email,
		"rule", string(d.Rule),
		"amount", bonus.Amount,
		"hashtag", bonus.Hashtag,
		"bonus_id", reply.ID)

	if l.notifier != nil {
		body := fmt.Sprintf("Sent %d cherries to %s", bonus.Amount, d.Email)
		if err := l.notifier.Notify(ctx, "Cherries sent", body); err != nil {
			log.Warn("failed to send notification", "error", err)
		}
	}
	return nil
}

// refreshDirectory replaces the directory snapshot only when both fetches succeed.
func (l *Loop) refreshDirectory(ctx context.Context, st *state.State, now time.Time) error {
	users, err := l.directory.Users(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	hashtags, err := l.directory.Hashtags(ctx)
	if err != nil {
		return fmt.Errorf("fetch hashtags: %w", err)
	}
	st.ReplaceDirectory(users, hashtags, now)
	l.logger.Info("refreshed directory", "users", len(users), "hashtags", len(hashtags))
	return nil
}

// finish saves st, records the cycle status and returns the combined error.
func (l *Loop) finish(ctx context.Context, logger *slog.Logger, st *state.State, sent int, cycleErr error) error {
	// Save even when shutting down so completed rewards are not forgotten.
	if err := l.store.Save(context.WithoutCancel(ctx), st); err != nil {
		cycleErr = errors.Join(cycleErr, fmt.Errorf("save state: %w", err))
	}

	result := ResultOK
	switch {
	case cycleErr == nil:
	case sent > 0:
		result = ResultPartial
	default:
		result = ResultFailed
	}

	l.setStatus(func(s *Status) {
		s.Finished = l.now()
		s.Result = result
		s.Error = ""
		if cycleErr != nil {
			s.Error = cycleErr.Error()
		}
		s.Sent = sent
		s.Replied = len(st.Replied)
		s.Pending = len(st.Pending)
		s.Cycles++
	})

	logger.Info("cycle complete",
		"result", result,
		"sent", sent,
		"replied", len(st.Replied),
		"pending", len(st.Pending))
	return cycleErr
}

// Status returns a copy of the most recent cycle's status.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Loop) setStatus(fn func(*Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
