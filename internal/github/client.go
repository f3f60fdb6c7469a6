package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/go-github/v50/github"
	"golang.org/x/time/rate"
)

const (
	defaultPerPage    = 100
	readAttempts      = 3
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

var (
	// ErrUnparsableRepo is returned when a search result's repository URL has no org/repo.
	ErrUnparsableRepo = errors.New("unparsable repository URL")
	// ErrNotFound is returned when a review or user no longer exists.
	ErrNotFound = errors.New("not found")
)

// Client reads approved pull requests and their reviews.
type Client struct {
	gh         *github.Client
	logger     *slog.Logger
	pager      *rate.Limiter
	perPage    int
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPageDelay sets the minimum pause between paginated requests.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.pager = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.pager = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithPerPage sets the page size for paginated requests.
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithRetryDelay sets the initial backoff for retried reads.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New creates a client over httpClient. baseURL is empty for github.com, or the
// full REST root (for example "https://ghe.example.com/api/v3/") otherwise.
func New(httpClient *http.Client, baseURL string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gh := github.NewClient(httpClient)
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		gh.BaseURL = u
	}

	c := &Client{
		gh:         gh,
		logger:     logger,
		pager:      rate.NewLimiter(rate.Every(time.Second), 1),
		perPage:    defaultPerPage,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", raw, err)
	}
	return u, nil
}

// retryable retries transient read failures. Client errors are returned immediately.
func (c *Client) retryable(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(readAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("GitHub API call failed, retrying",
				"attempt", n+1,
				"max_attempts", readAttempts,
				"error", err)
		}),
		retry.RetryIf(isTransient),
	)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return false
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return false
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}
	return true
}

// ApprovedPullRequests returns pull requests authored by author in org that carry an
// approval and were updated at or after since.
func (c *Client) ApprovedPullRequests(ctx context.Context, author, org string, since time.Time) ([]PullRequest, error) {
	query := fmt.Sprintf("is:pr author:%s review:approved org:%s updated:>=%s",
		author, org, since.UTC().Format(time.RFC3339))

	c.logger.Debug("searching for approved PRs", "query", query)

	opts := &github.SearchOptions{
		Sort:  "updated",
		Order: "asc",
		ListOptions: github.ListOptions{
			PerPage: c.perPage,
		},
	}

	var prs []PullRequest
	for page := 1; ; page++ {
		opts.Page = page
		if err := c.pager.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for page %d: %w", page, err)
		}

		var result *github.IssuesSearchResult
		err := c.retryable(ctx, func() error {
			var err error
			result, _, err = c.gh.Search.Issues(ctx, query, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}

		for _, issue := range result.Issues {
			if issue.PullRequestLinks == nil {
				continue
			}
			owner, repo, err := parseRepositoryURL(issue.GetRepositoryURL())
			if err != nil {
				return nil, fmt.Errorf("pull request #%d: %w", issue.GetNumber(), err)
			}
			prs = append(prs, PullRequest{Org: owner, Repo: repo, Number: issue.GetNumber()})
		}

		if len(result.Issues) < c.perPage {
			break
		}
	}

	c.logger.Debug("PR search completed", "query", query, "results", len(prs))
	return prs, nil
}

// Reviews returns every review on pr, following pagination to exhaustion.
func (c *Client) Reviews(ctx context.Context, pr PullRequest) ([]Review, error) {
	opts := &github.ListOptions{PerPage: c.perPage}

	var reviews []Review
	for page := 1; ; page++ {
		opts.Page = page
		if err := c.pager.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for page %d: %w", page, err)
		}

		var batch []*github.PullRequestReview
		err := c.retryable(ctx, func() error {
			var err error
			batch, _, err = c.gh.PullRequests.ListReviews(ctx, pr.Org, pr.Repo, pr.Number, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list reviews for %s: %w", pr, err)
		}

		for _, r := range batch {
			reviews = append(reviews, convertReview(pr, r))
		}

		if len(batch) < c.perPage {
			break
		}
	}
	return reviews, nil
}

// Review fetches a single review by id.
func (c *Client) Review(ctx context.Context, pr PullRequest, id int64) (Review, error) {
	var r *github.PullRequestReview
	err := c.retryable(ctx, func() error {
		var err error
		r, _, err = c.gh.PullRequests.GetReview(ctx, pr.Org, pr.Repo, pr.Number, id)
		return err
	})
	if isNotFound(err) {
		return Review{}, fmt.Errorf("get review %d on %s: %w", id, pr, ErrNotFound)
	}
	if err != nil {
		return Review{}, fmt.Errorf("get review %d on %s: %w", id, pr, err)
	}
	return convertReview(pr, r), nil
}

// Member fetches the public profile for login.
func (c *Client) Member(ctx context.Context, login string) (Member, error) {
	var u *github.User
	err := c.retryable(ctx, func() error {
		var err error
		u, _, err = c.gh.Users.Get(ctx, login)
		return err
	})
	if isNotFound(err) {
		return Member{}, fmt.Errorf("get user %s: %w", login, ErrNotFound)
	}
	if err != nil {
		return Member{}, fmt.Errorf("get user %s: %w", login, err)
	}
	return Member{
		Login: u.GetLogin(),
		Email: u.GetEmail(),
		Name:  u.GetName(),
	}, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func convertReview(pr PullRequest, r *github.PullRequestReview) Review {
	return Review{
		ID:       r.GetID(),
		PR:       pr,
		Reviewer: r.GetUser().GetLogin(),
		State:    r.GetState(),
		URL:      r.GetHTMLURL(),
	}
}

// parseRepositoryURL extracts owner and repo from an API repository URL such as
// https://api.github.com/repos/owner/repo or https://ghe/api/v3/repos/owner/repo.
func parseRepositoryURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnparsableRepo, raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "repos" && segments[i+1] != "" && segments[i+2] != "" {
			return segments[i+1], segments[i+2], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnparsableRepo, raw)
}
