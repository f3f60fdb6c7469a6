// Package github reads pull requests, reviews, and user profiles from GitHub.
package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v50/github"
	"golang.org/x/oauth2"
)

const (
	jwtExpiration      = 10 * time.Minute
	tokenRefreshBuffer = 5 * time.Minute
)

// TokenHTTPClient returns an HTTP client authenticated with a personal access token.
func TokenHTTPClient(ctx context.Context, token string) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return oauth2.NewClient(ctx, ts)
}

// AppClient authenticates as a GitHub App installed on a single organization.
type AppClient struct {
	privateKey     *rsa.PrivateKey
	logger         *slog.Logger
	baseURL        *url.URL
	token          *tokenEntry
	appID          string
	org            string
	installationID int64
	mu             sync.Mutex
}

type tokenEntry struct {
	expiresAt time.Time
	token     string
}

// NewAppClient creates a GitHub App client for org. baseURL may be empty for github.com.
func NewAppClient(appID, privateKeyPEM, org, baseURL string, logger *slog.Logger) (*AppClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	c := &AppClient{
		appID:      appID,
		privateKey: key,
		org:        org,
		logger:     logger,
	}
	if baseURL != "" {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		c.baseURL = u
	}
	return c, nil
}

// HTTPClient returns an HTTP client whose installation token is refreshed before it expires.
func (c *AppClient) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, &appTokenSource{ctx: ctx, app: c}))
}

type appTokenSource struct {
	ctx context.Context //nolint:containedctx // oauth2.TokenSource has no context parameter
	app *AppClient
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	token, expiresAt, err := s.app.installationToken(s.ctx)
	if err != nil {
		return nil, err
	}
	// Expire early so oauth2 asks again before GitHub rejects it.
	return &oauth2.Token{AccessToken: token, Expiry: expiresAt.Add(-tokenRefreshBuffer)}, nil
}

func (c *AppClient) installationToken(ctx context.Context) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && time.Until(c.token.expiresAt) > tokenRefreshBuffer {
		return c.token.token, c.token.expiresAt, nil
	}

	jwtClient := c.jwtClient(ctx)

	if c.installationID == 0 {
		id, err := c.findInstallation(ctx, jwtClient)
		if err != nil {
			return "", time.Time{}, err
		}
		c.installationID = id
	}

	token, _, err := jwtClient.Apps.CreateInstallationToken(ctx, c.installationID, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create installation token: %w", err)
	}

	c.token = &tokenEntry{
		token:     token.GetToken(),
		expiresAt: token.GetExpiresAt().Time,
	}

	c.logger.Debug("refreshed installation token",
		"org", c.org,
		"installation_id", c.installationID,
		"expires_at", token.GetExpiresAt())

	return c.token.token, c.token.expiresAt, nil
}

func (c *AppClient) findInstallation(ctx context.Context, jwtClient *github.Client) (int64, error) {
	installations, _, err := jwtClient.Apps.ListInstallations(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list installations: %w", err)
	}

	for _, inst := range installations {
		if inst.GetAccount().GetLogin() != c.org {
			continue
		}
		c.logger.Debug("found installation",
			"org", c.org,
			"installation_id", inst.GetID())
		return inst.GetID(), nil
	}

	return 0, fmt.Errorf("no installation found for org: %s", c.org)
}

func (c *AppClient) jwtClient(ctx context.Context) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.generateJWT()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client
}

func (c *AppClient) generateJWT() string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtExpiration)),
		Issuer:    c.appID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		c.logger.Error("failed to sign JWT", "error", err)
		return ""
	}

	return signed
}
