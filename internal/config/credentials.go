package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/codeGROOVE-dev/gsm"
)

// Environment variables that override credential file values.
const (
	EnvBonuslyToken     = "BONUSLY_TOKEN"
	EnvGitHubToken      = "GITHUB_TOKEN"
	EnvGitHubAppID      = "GITHUB_APP_ID"
	EnvGitHubPrivateKey = "GITHUB_PRIVATE_KEY"
	// EnvGitHubPrivateKeyPath names a PEM file used when no key is set otherwise.
	EnvGitHubPrivateKeyPath = "GITHUB_PRIVATE_KEY_PATH"
)

// Credentials are the API secrets. GitHub access uses either a token or an App.
type Credentials struct {
	Bonusly          string `toml:"bonusly"`
	GitHub           string `toml:"github"`
	GitHubAppID      string `toml:"github_app_id"`
	GitHubPrivateKey string `toml:"github_private_key"`
}

// UsesApp reports whether GitHub access should go through App authentication.
func (c Credentials) UsesApp() bool {
	return c.GitHub == "" && c.GitHubAppID != "" && c.GitHubPrivateKey != ""
}

// SecretFetcher looks up a named secret in a secret manager.
type SecretFetcher func(ctx context.Context, name string) (string, error)

// LoadCredentials reads the credentials file at path if it exists, applies
// environment overrides, then asks Secret Manager for whatever is still missing.
func LoadCredentials(ctx context.Context, path string) (Credentials, error) {
	return loadCredentials(ctx, path, gsm.Fetch)
}

func loadCredentials(ctx context.Context, path string, fetch SecretFetcher) (Credentials, error) {
	var creds Credentials
	if path != "" {
		_, err := toml.DecodeFile(path, &creds)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("no credentials file, using environment", "path", path)
		case err != nil:
			return Credentials{}, fmt.Errorf("parse credentials %s: %w", path, err)
		}
	}

	override(&creds.Bonusly, EnvBonuslyToken)
	override(&creds.GitHub, EnvGitHubToken)
	override(&creds.GitHubAppID, EnvGitHubAppID)
	override(&creds.GitHubPrivateKey, EnvGitHubPrivateKey)

	if creds.GitHubPrivateKey == "" {
		if keyPath := os.Getenv(EnvGitHubPrivateKeyPath); keyPath != "" {
			data, err := os.ReadFile(keyPath)
			if err != nil {
				return Credentials{}, fmt.Errorf("read private key: %w", err)
			}
			creds.GitHubPrivateKey = string(data)
		}
	}

	// Secret Manager is only consulted for values that are actually needed.
	if creds.Bonusly == "" {
		creds.Bonusly = fetchSecret(ctx, fetch, EnvBonuslyToken)
	}
	if creds.GitHub == "" && !creds.UsesApp() {
		creds.GitHub = fetchSecret(ctx, fetch, EnvGitHubToken)
	}
	if creds.GitHub == "" {
		if creds.GitHubAppID == "" {
			creds.GitHubAppID = fetchSecret(ctx, fetch, EnvGitHubAppID)
		}
		if creds.GitHubPrivateKey == "" {
			creds.GitHubPrivateKey = fetchSecret(ctx, fetch, EnvGitHubPrivateKey)
		}
	}

	if creds.Bonusly == "" {
		return Credentials{}, fmt.Errorf("bonusly token is required (credentials file or %s)", EnvBonuslyToken)
	}
	if creds.GitHub == "" && !creds.UsesApp() {
		return Credentials{}, fmt.Errorf("github token (%s) or app credentials (%s and %s) are required",
			EnvGitHubToken, EnvGitHubAppID, EnvGitHubPrivateKey)
	}
	return creds, nil
}

func override(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		slog.Debug("using environment variable", "name", env)
		*dst = v
	}
}

func fetchSecret(ctx context.Context, fetch SecretFetcher, name string) string {
	value, err := fetch(ctx, name)
	if err != nil {
		slog.Debug("secret not found in Secret Manager", "name", name, "error", err)
		return ""
	}
	if value != "" {
		slog.Info("loaded secret from Secret Manager", "name", name)
	}
	return value
}
