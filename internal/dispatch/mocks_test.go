package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/github"
)

// MockReviewSource is a programmable reconcile.ReviewSource.
type MockReviewSource struct {
	SearchErr   error
	PRs         []github.PullRequest
	ReviewLists map[github.PullRequest][]github.Review
	Single      map[int64]github.Review
	Members     map[string]github.Member
}

func NewMockReviewSource() *MockReviewSource {
	return &MockReviewSource{
		ReviewLists: make(map[github.PullRequest][]github.Review),
		Single:      make(map[int64]github.Review),
		Members:     make(map[string]github.Member),
	}
}

func (m *MockReviewSource) ApprovedPullRequests(context.Context, string, string, time.Time) ([]github.PullRequest, error) {
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	return m.PRs, nil
}

func (m *MockReviewSource) Reviews(_ context.Context, pr github.PullRequest) ([]github.Review, error) {
	return m.ReviewLists[pr], nil
}

func (m *MockReviewSource) Review(_ context.Context, _ github.PullRequest, id int64) (github.Review, error) {
	r, ok := m.Single[id]
	if !ok {
		return github.Review{}, fmt.Errorf("review %d: %w", id, github.ErrNotFound)
	}
	return r, nil
}

func (m *MockReviewSource) Member(_ context.Context, login string) (github.Member, error) {
	if mem, ok := m.Members[login]; ok {
		return mem, nil
	}
	return github.Member{Login: login}, nil
}

// MockRewarder records bonuses and fails for configured receivers.
type MockRewarder struct {
	Errors map[string]error
	Sent   []bonusly.Bonus
	Calls  int
	mu     sync.Mutex
}

func NewMockRewarder() *MockRewarder {
	return &MockRewarder{Errors: make(map[string]error)}
}

func (m *MockRewarder) SendBonus(_ context.Context, b bonusly.Bonus) (bonusly.BonusReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err, ok := m.Errors[b.ReceiverEmail]; ok {
		return bonusly.BonusReply{}, err
	}
	m.Sent = append(m.Sent, b)
	return bonusly.BonusReply{ID: fmt.Sprintf("bonus-%d", len(m.Sent)), Reason: b.Reason}, nil
}

// MockDirectory serves a fixed directory.
type MockDirectory struct {
	UsersErr error
	UserList []bonusly.User
	Tags     []string
	Calls    int
}

func (m *MockDirectory) Users(context.Context) ([]bonusly.User, error) {
	m.Calls++
	return m.UserList, m.UsersErr
}

func (m *MockDirectory) Hashtags(context.Context) ([]string, error) {
	return m.Tags, nil
}

// MockNotifier records notifications.
type MockNotifier struct {
	Bodies []string
	Err    error
}

func (m *MockNotifier) Notify(_ context.Context, _, body string) error {
	m.Bodies = append(m.Bodies, body)
	return m.Err
}

// recordingSleeper records requested pauses without sleeping.
type recordingSleeper struct {
	// failAfter makes the nth call (1-based) return context.Canceled; zero never fails.
	failAfter int
	durations []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	if s.failAfter > 0 && len(s.durations) >= s.failAfter {
		return context.Canceled
	}
	return nil
}
