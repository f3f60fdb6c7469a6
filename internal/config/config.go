// Package config loads the daemon configuration and credentials.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage backends for program state.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendFido   = "fido"
)

const (
	defaultDataPath              = "state.json"
	defaultSQLitePath            = "state.db"
	defaultCredentialsPath       = "credentials.toml"
	defaultCherriesPerCheck      = 1
	defaultPRCheckMinutes        = 5
	defaultStateUpdateDays       = 1
	defaultSendBonusDelaySeconds = 5
	defaultPageDelayMillis       = 1000
)

// GitHubConfig selects the pull requests to watch.
type GitHubConfig struct {
	// Emails maps GitHub login to Bonusly email, overriding name matching.
	Emails  map[string]string `toml:"emails" yaml:"emails"`
	User    string            `toml:"user" yaml:"user"`
	Org     string            `toml:"org" yaml:"org"`
	BaseURL string            `toml:"base_url" yaml:"base_url"`
}

// Config is the on-disk configuration file.
type Config struct {
	GitHub                GitHubConfig `toml:"github" yaml:"github"`
	EmailDomain           string       `toml:"email_domain" yaml:"email_domain"`
	BonuslyBaseURL        string       `toml:"bonusly_base_url" yaml:"bonusly_base_url"`
	DataPath              string       `toml:"data_path" yaml:"data_path"`
	CredentialsPath       string       `toml:"credentials_path" yaml:"credentials_path"`
	NotifySendUser        string       `toml:"notify_send_user" yaml:"notify_send_user"`
	StateBackend          string       `toml:"state_backend" yaml:"state_backend"`
	HealthAddr            string       `toml:"health_addr" yaml:"health_addr"`
	Path                  string       `toml:"-" yaml:"-"`
	CherriesPerCheck      int          `toml:"cherries_per_check" yaml:"cherries_per_check"`
	PRCheckMinutes        int          `toml:"pr_check_minutes" yaml:"pr_check_minutes"`
	StateUpdateDays       int          `toml:"state_update_days" yaml:"state_update_days"`
	SendBonusDelaySeconds int          `toml:"send_bonus_delay_seconds" yaml:"send_bonus_delay_seconds"`
	PageDelayMillis       int          `toml:"page_delay_millis" yaml:"page_delay_millis"`
}

func defaults() *Config {
	return &Config{
		CredentialsPath:       defaultCredentialsPath,
		StateBackend:          BackendFile,
		CherriesPerCheck:      defaultCherriesPerCheck,
		PRCheckMinutes:        defaultPRCheckMinutes,
		StateUpdateDays:       defaultStateUpdateDays,
		SendBonusDelaySeconds: defaultSendBonusDelaySeconds,
		PageDelayMillis:       defaultPageDelayMillis,
	}
}

// defaultDataPathFor picks the state file name when data_path is unset, so a sqlite
// database never lands on the JSON file store's path.
func defaultDataPathFor(backend string) string {
	if backend == BackendSQLite {
		return defaultSQLitePath
	}
	return defaultDataPath
}

// Load reads the config file at path. The format follows the extension: .yaml and
// .yml are YAML, everything else is TOML. Relative data and credential paths are
// resolved against the config file's directory.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", abs, err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", abs, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			slog.Warn("ignoring unknown config keys", "path", abs, "keys", fmt.Sprint(undecoded))
		}
	}

	cfg.Path = abs
	if cfg.DataPath == "" {
		cfg.DataPath = defaultDataPathFor(cfg.StateBackend)
	}
	dir := filepath.Dir(abs)
	cfg.DataPath = resolvePath(dir, cfg.DataPath)
	cfg.CredentialsPath = resolvePath(dir, cfg.CredentialsPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", abs, err)
	}

	slog.Info("loaded config",
		"path", abs,
		"github_user", cfg.GitHub.User,
		"github_org", cfg.GitHub.Org,
		"overrides", len(cfg.GitHub.Emails),
		"state_backend", cfg.StateBackend)
	return cfg, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.GitHub.User == "" {
		errs = append(errs, errors.New("github.user is required"))
	}
	if c.GitHub.Org == "" {
		errs = append(errs, errors.New("github.org is required"))
	}
	if c.CherriesPerCheck <= 0 {
		errs = append(errs, fmt.Errorf("cherries_per_check must be positive, got %d", c.CherriesPerCheck))
	}
	if c.PRCheckMinutes <= 0 {
		errs = append(errs, fmt.Errorf("pr_check_minutes must be positive, got %d", c.PRCheckMinutes))
	}
	if c.StateUpdateDays <= 0 {
		errs = append(errs, fmt.Errorf("state_update_days must be positive, got %d", c.StateUpdateDays))
	}
	if c.SendBonusDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("send_bonus_delay_seconds must not be negative, got %d", c.SendBonusDelaySeconds))
	}
	if c.PageDelayMillis < 0 {
		errs = append(errs, fmt.Errorf("page_delay_millis must not be negative, got %d", c.PageDelayMillis))
	}
	switch c.StateBackend {
	case BackendFile, BackendSQLite:
		if c.DataPath == "" {
			errs = append(errs, fmt.Errorf("data_path is required for the %s backend", c.StateBackend))
		}
	case BackendFido:
	default:
		errs = append(errs, fmt.Errorf("state_backend must be %q, %q or %q, got %q",
			BackendFile, BackendSQLite, BackendFido, c.StateBackend))
	}
	for login, email := range c.GitHub.Emails {
		if !strings.Contains(email, "@") {
			errs = append(errs, fmt.Errorf("github.emails[%s]: %q is not an email address", login, email))
		}
	}
	return errors.Join(errs...)
}

// PollInterval is the pause between cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PRCheckMinutes) * time.Minute
}

// DirectoryMaxAge is how old the cached directory may get before a refresh.
func (c *Config) DirectoryMaxAge() time.Duration {
	return time.Duration(c.StateUpdateDays) * 24 * time.Hour
}

// DispatchPause is the pause after every bonus attempt.
func (c *Config) DispatchPause() time.Duration {
	return time.Duration(c.SendBonusDelaySeconds) * time.Second
}

// PageDelay is the minimum pause between paginated GitHub requests.
func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMillis) * time.Millisecond
}
