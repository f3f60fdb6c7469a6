// Package bonusly is a client for the Bonusly recognition API.
//
// See https://bonusly.docs.apiary.io/.
package bonusly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://bonus.ly/api/v1"

	applicationName   = "cherries-4-prs"
	usersPageLimit    = 100
	readAttempts      = 3
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
	maxErrorBody      = 512
)

// User is an account in the recognition directory.
type User struct {
	ID          string `json:"id"`
	ShortName   string `json:"short_name,omitempty"`
	FullName    string `json:"full_name"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email"`
	CanReceive  bool   `json:"can_receive"`
}

// Bonus is a reward to create.
type Bonus struct {
	GiverEmail    string `json:"giver_email"`
	ReceiverEmail string `json:"receiver_email"`
	// Hashtag includes the leading '#'.
	Hashtag string `json:"hashtag"`
	Reason  string `json:"reason"`
	Amount  int    `json:"amount"`
}

// BonusReply is the created bonus record.
type BonusReply struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Reason    string `json:"reason"`
}

type company struct {
	Hashtags []string `json:"company_hashtags"`
}

// Client talks to the Bonusly API with a bearer token.
type Client struct {
	http       *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryDelay sets the initial backoff for retried reads.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New creates a client authenticated with token.
func New(token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:       http.DefaultClient,
		logger:     logger,
		baseURL:    DefaultBaseURL,
		token:      token,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Users lists the whole directory, following limit/skip pagination until a short page.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	for skip := 0; ; skip += usersPageLimit {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(usersPageLimit))
		q.Set("skip", strconv.Itoa(skip))

		var page []User
		if err := c.get(ctx, "/users?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("list users (skip %d): %w", skip, err)
		}
		users = append(users, page...)

		if len(page) < usersPageLimit {
			break
		}
	}

	c.logger.Debug("listed directory users", "count", len(users))
	return users, nil
}

// Me returns the account that owns the token.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	if err := c.get(ctx, "/users/me", &u); err != nil {
		return User{}, fmt.Errorf("fetch self: %w", err)
	}
	return u, nil
}

// Hashtags returns the company's configured hashtags.
func (c *Client) Hashtags(ctx context.Context) ([]string, error) {
	var co company
	if err := c.get(ctx, "/companies/show", &co); err != nil {
		return nil, fmt.Errorf("fetch company: %w", err)
	}
	return co.Hashtags, nil
}

// SendBonus creates a bonus. It is not retried: a lost response could mean a
// bonus was created, and the caller owns retry.
func (c *Client) SendBonus(ctx context.Context, bonus Bonus) (BonusReply, error) {
	body, err := json.Marshal(bonus)
	if err != nil {
		return BonusReply{}, fmt.Errorf("encode bonus: %w", err)
	}

	var reply BonusReply
	if err := c.do(ctx, http.MethodPost, "/bonuses", body, &reply); err != nil {
		return BonusReply{}, fmt.Errorf("create bonus for %s: %w", bonus.ReceiverEmail, err)
	}
	return reply, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error {
			return c.do(ctx, http.MethodGet, path, nil, out)
		},
		retry.Context(ctx),
		retry.Attempts(readAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Bonusly API call failed, retrying",
				"path", path,
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
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrMalformedEnvelope)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("HTTP_APPLICATION_NAME", applicationName)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := decodeEnvelope(data, out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.StatusCode = resp.StatusCode
			return apiErr
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: truncate(string(data), maxErrorBody)}
		}
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
