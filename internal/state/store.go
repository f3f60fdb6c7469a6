// Package state provides the persisted program state and its storage backends.
package state

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/github"
)

// ErrNotFound is returned by Store.Load when no state has been saved yet.
var ErrNotFound = errors.New("state not found")

// Store persists State between cycles and restarts.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
	Close() error
}

// ReplyRecord is a completed reward. It deliberately has no review id: at most one
// reward is ever sent per (pull request, reviewer).
type ReplyRecord struct {
	PR       github.PullRequest `json:"pr"`
	Reviewer string             `json:"reviewer"`
}

// PendingReview is an approval waiting for an email match or a successful dispatch.
type PendingReview struct {
	PR       github.PullRequest `json:"pr"`
	Reviewer string             `json:"reviewer"`
	ReviewID int64              `json:"review_id"`
}

// Key returns the (pull request, reviewer) pair the review is tracked under.
func (p PendingReview) Key() ReplyRecord {
	return ReplyRecord{PR: p.PR, Reviewer: p.Reviewer}
}

// State is everything the daemon remembers. It is owned by a single cycle at a
// time and is not safe for concurrent use.
type State struct {
	Cutoff               time.Time
	LastDirectoryRefresh time.Time
	Replied              map[ReplyRecord]struct{}
	Pending              map[ReplyRecord]PendingReview
	MemberCache          map[string]github.Member
	DirectoryUsers       []bonusly.User
	Hashtags             []string
}

// New returns an empty state whose forward scan starts at cutoff.
func New(cutoff time.Time) *State {
	return &State{
		Cutoff:      normalize(cutoff),
		Replied:     make(map[ReplyRecord]struct{}),
		Pending:     make(map[ReplyRecord]PendingReview),
		MemberCache: make(map[string]github.Member),
	}
}

// normalize drops the monotonic reading and location so persisted times compare equal.
func normalize(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.Round(0).UTC()
}

// HasReplied reports whether reviewer was already rewarded for pr.
func (s *State) HasReplied(pr github.PullRequest, reviewer string) bool {
	_, ok := s.Replied[ReplyRecord{PR: pr, Reviewer: reviewer}]
	return ok
}

// MarkReplied records a successful reward and drops any pending entry for the pair.
func (s *State) MarkReplied(pr github.PullRequest, reviewer string) {
	key := ReplyRecord{PR: pr, Reviewer: reviewer}
	delete(s.Pending, key)
	s.Replied[key] = struct{}{}
}

// AddPending queues a review for retry. It returns false, leaving state unchanged,
// when the pair was already rewarded. A newer review id replaces an older one.
func (s *State) AddPending(p PendingReview) bool {
	if s.HasReplied(p.PR, p.Reviewer) {
		return false
	}
	s.Pending[p.Key()] = p
	return true
}

// PendingReviews returns pending entries in a stable order.
func (s *State) PendingReviews() []PendingReview {
	out := make([]PendingReview, 0, len(s.Pending))
	for _, p := range s.Pending {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b PendingReview) int {
		if c := compareRecords(a.Key(), b.Key()); c != 0 {
			return c
		}
		return compareInt64(a.ReviewID, b.ReviewID)
	})
	return out
}

// RepliedRecords returns rewarded pairs in a stable order.
func (s *State) RepliedRecords() []ReplyRecord {
	out := make([]ReplyRecord, 0, len(s.Replied))
	for r := range s.Replied {
		out = append(out, r)
	}
	slices.SortFunc(out, compareRecords)
	return out
}

// AdvanceCutoff moves the watermark forward to t. It never moves it backwards.
func (s *State) AdvanceCutoff(t time.Time) bool {
	t = normalize(t)
	if !t.After(s.Cutoff) {
		return false
	}
	s.Cutoff = t
	return true
}

// DirectoryStale reports whether the directory snapshot is at least maxAge old.
func (s *State) DirectoryStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastDirectoryRefresh) >= maxAge
}

// ReplaceDirectory swaps in a fresh directory snapshot wholesale.
func (s *State) ReplaceDirectory(users []bonusly.User, hashtags []string, at time.Time) {
	s.DirectoryUsers = users
	s.Hashtags = hashtags
	s.LastDirectoryRefresh = normalize(at)
}

// Member returns the cached profile for login.
func (s *State) Member(login string) (github.Member, bool) {
	m, ok := s.MemberCache[login]
	return m, ok
}

// CacheMember stores a profile. Entries are never evicted.
func (s *State) CacheMember(m github.Member) {
	s.MemberCache[m.Login] = m
}

func compareRecords(a, b ReplyRecord) int {
	if c := strings.Compare(a.PR.Org, b.PR.Org); c != 0 {
		return c
	}
	if c := strings.Compare(a.PR.Repo, b.PR.Repo); c != 0 {
		return c
	}
	if c := compareInt64(int64(a.PR.Number), int64(b.PR.Number)); c != 0 {
		return c
	}
	return strings.Compare(a.Reviewer, b.Reviewer)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
