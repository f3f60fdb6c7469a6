// Package reconcile discovers approved reviews that still need a reward and decides
// which of them can be dispatched.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/cherries/internal/github"
	"github.com/codeGROOVE-dev/cherries/internal/identity"
	"github.com/codeGROOVE-dev/cherries/internal/state"
)

// ReviewSource is the subset of the GitHub client the engine reads from.
type ReviewSource interface {
	ApprovedPullRequests(ctx context.Context, author, org string, since time.Time) ([]github.PullRequest, error)
	Reviews(ctx context.Context, pr github.PullRequest) ([]github.Review, error)
	Review(ctx context.Context, pr github.PullRequest, id int64) (github.Review, error)
	Member(ctx context.Context, login string) (github.Member, error)
}

// Candidate is a review that has not been rewarded yet.
type Candidate struct {
	Review github.Review
	// Retry is set when the review came from the pending set.
	Retry bool
}

// Candidates groups discovered reviews by pull request.
type Candidates map[github.PullRequest][]Candidate

// Len returns the number of candidate reviews.
func (c Candidates) Len() int {
	n := 0
	for _, list := range c {
		n += len(list)
	}
	return n
}

// add records a candidate, keeping one per (pull request, reviewer). A later review
// id wins, and the pair stays marked as a retry if either source was one.
func (c Candidates) add(cand Candidate) {
	list := c[cand.Review.PR]
	for i, existing := range list {
		if existing.Review.Reviewer != cand.Review.Reviewer {
			continue
		}
		if cand.Review.ID > existing.Review.ID {
			list[i].Review = cand.Review
		}
		list[i].Retry = existing.Retry || cand.Retry
		return
	}
	c[cand.Review.PR] = append(list, cand)
}

// Decision is the classification of one candidate.
type Decision struct {
	Member github.Member
	Email  string
	Rule   identity.Rule
	Review github.Review
}

// Dispatchable reports whether an email was resolved.
func (d Decision) Dispatchable() bool {
	return d.Email != ""
}

// Engine finds and classifies reviews for a single tracked author.
type Engine struct {
	source   ReviewSource
	logger   *slog.Logger
	author   string
	org      string
	resolver identity.Resolver
}

// New creates an engine that tracks pull requests by author in org.
func New(source ReviewSource, resolver identity.Resolver, author, org string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:   source,
		resolver: resolver,
		author:   author,
		org:      org,
		logger:   logger,
	}
}

// Discover merges the forward scan since st.Cutoff with a direct re-fetch of every
// pending review, then makes sure every reviewer has a cached profile.
//
// Any fetch failure aborts discovery. Profiles fetched before the failure stay in
// st.MemberCache. The one exception is a pending review that no longer exists: it
// is dropped from st.Pending with a warning so it cannot block every later cycle.
func (e *Engine) Discover(ctx context.Context, st *state.State) (Candidates, error) {
	found := make(Candidates)

	if err := e.scanForward(ctx, st, found); err != nil {
		return nil, err
	}
	if err := e.retryPending(ctx, st, found); err != nil {
		return nil, err
	}
	if err := e.warmMembers(ctx, st, found); err != nil {
		return nil, err
	}

	e.logger.Info("discovery complete",
		"pull_requests", len(found),
		"candidates", found.Len(),
		"pending", len(st.Pending))
	return found, nil
}

func (e *Engine) scanForward(ctx context.Context, st *state.State, found Candidates) error {
	prs, err := e.source.ApprovedPullRequests(ctx, e.author, e.org, st.Cutoff)
	if err != nil {
		return fmt.Errorf("search approved pull requests: %w", err)
	}

	for _, pr := range prs {
		reviews, err := e.source.Reviews(ctx, pr)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}
		for _, r := range reviews {
			if !r.Approved() || r.Reviewer == "" {
				continue
			}
			if st.HasReplied(pr, r.Reviewer) {
				continue
			}
			found.add(Candidate{Review: r})
		}
	}
	return nil
}

func (e *Engine) retryPending(ctx context.Context, st *state.State, found Candidates) error {
	for _, p := range st.PendingReviews() {
		r, err := e.source.Review(ctx, p.PR, p.ReviewID)
		if errors.Is(err, github.ErrNotFound) {
			e.logger.Warn("pending review no longer exists, dropping",
				"pr", p.PR.String(),
				"reviewer", p.Reviewer,
				"review_id", p.ReviewID)
			delete(st.Pending, p.Key())
			continue
		}
		if err != nil {
			return fmt.Errorf("retry pending review: %w", err)
		}
		r.PR = p.PR
		if r.ID == 0 {
			r.ID = p.ReviewID
		}
		switch {
		case r.Reviewer == "":
			r.Reviewer = p.Reviewer
		case r.Reviewer != p.Reviewer:
			// Renamed account: track the review under the current login only.
			e.logger.Info("pending reviewer was renamed",
				"pr", p.PR.String(),
				"old_login", p.Reviewer,
				"new_login", r.Reviewer,
				"review_id", p.ReviewID)
			delete(st.Pending, p.Key())
			if st.HasReplied(r.PR, r.Reviewer) {
				continue
			}
		}
		found.add(Candidate{Review: r, Retry: true})
	}
	return nil
}

// warmMembers fetches profiles missing from the cache. Pending retries always refetch
// so that a profile that gained an email since last cycle is seen. A profile that
// no longer exists is cached as its bare login instead of failing discovery.
func (e *Engine) warmMembers(ctx context.Context, st *state.State, found Candidates) error {
	refreshed := make(map[string]bool)
	for _, c := range e.ordered(found) {
		login := c.Review.Reviewer
		if refreshed[login] {
			continue
		}
		if _, cached := st.Member(login); cached && !c.Retry {
			continue
		}
		m, err := e.source.Member(ctx, login)
		if errors.Is(err, github.ErrNotFound) {
			// Deleted account: cache the bare login so only an override can match it.
			e.logger.Warn("reviewer profile no longer exists", "reviewer", login)
			m = github.Member{Login: login}
			err = nil
		}
		if err != nil {
			return fmt.Errorf("fetch member: %w", err)
		}
		if m.Login == "" {
			m.Login = login
		}
		st.CacheMember(m)
		refreshed[login] = true
	}
	return nil
}

// Classify resolves an email for every candidate. It performs no I/O: profiles come
// from st.MemberCache, which Discover has populated.
func (e *Engine) Classify(st *state.State, found Candidates) []Decision {
	decisions := make([]Decision, 0, found.Len())
	for _, c := range e.ordered(found) {
		member, ok := st.Member(c.Review.Reviewer)
		if !ok {
			member = github.Member{Login: c.Review.Reviewer}
		}
		email, rule, _ := e.resolver.Resolve(member, st.DirectoryUsers)

		e.logger.Debug("classified review",
			"pr", c.Review.PR.String(),
			"reviewer", c.Review.Reviewer,
			"review_id", c.Review.ID,
			"retry", c.Retry,
			"rule", string(rule),
			"dispatchable", email != "")

		decisions = append(decisions, Decision{
			Review: c.Review,
			Member: member,
			Email:  email,
			Rule:   rule,
		})
	}
	return decisions
}

// ordered flattens candidates into a stable order: pull request, then reviewer.
func (*Engine) ordered(found Candidates) []Candidate {
	out := make([]Candidate, 0, found.Len())
	for _, list := range found {
		out = append(out, list...)
	}
	slices.SortFunc(out, func(a, b Candidate) int {
		pa, pb := a.Review.PR, b.Review.PR
		if c := strings.Compare(pa.Org, pb.Org); c != 0 {
			return c
		}
		if c := strings.Compare(pa.Repo, pb.Repo); c != 0 {
			return c
		}
		if pa.Number != pb.Number {
			return pa.Number - pb.Number
		}
		return strings.Compare(a.Review.Reviewer, b.Review.Reviewer)
	})
	return out
}
