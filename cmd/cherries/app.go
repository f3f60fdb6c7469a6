package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/cherries/internal/bonusly"
	"github.com/codeGROOVE-dev/cherries/internal/config"
	"github.com/codeGROOVE-dev/cherries/internal/dispatch"
	"github.com/codeGROOVE-dev/cherries/internal/github"
	"github.com/codeGROOVE-dev/cherries/internal/identity"
	"github.com/codeGROOVE-dev/cherries/internal/notify"
	"github.com/codeGROOVE-dev/cherries/internal/reconcile"
	"github.com/codeGROOVE-dev/cherries/internal/state"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 120 * time.Second
	shutdownTimeout    = 250 * time.Millisecond
)

// app holds the clients and store shared by every command.
type app struct {
	cfg      *config.Config
	gh       *github.Client
	bonusly  *bonusly.Client
	store    state.Store
	logger   *slog.Logger
	resolver identity.Resolver
	dryRun   bool
}

// newApp loads configuration and credentials and builds the API clients and store.
// Any failure here is a fatal startup error.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	logger := slog.Default()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	creds, err := config.LoadCredentials(ctx, cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	httpClient, err := githubHTTPClient(ctx, cfg, creds, logger)
	if err != nil {
		return nil, err
	}
	gh, err := github.New(httpClient, cfg.GitHub.BaseURL, logger, github.WithPageDelay(cfg.PageDelay()))
	if err != nil {
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}

	var bonuslyOpts []bonusly.Option
	if cfg.BonuslyBaseURL != "" {
		bonuslyOpts = append(bonuslyOpts, bonusly.WithBaseURL(cfg.BonuslyBaseURL))
	}

	store, err := openStore(ctx, cfg, opts.DryRun)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		gh:      gh,
		bonusly: bonusly.New(creds.Bonusly, logger, bonuslyOpts...),
		store:   store,
		logger:  logger,
		resolver: identity.Resolver{
			Overrides:   cfg.GitHub.Emails,
			EmailDomain: cfg.EmailDomain,
		},
		dryRun: opts.DryRun,
	}, nil
}

func githubHTTPClient(ctx context.Context, cfg *config.Config, creds config.Credentials, logger *slog.Logger) (*http.Client, error) {
	if !creds.UsesApp() {
		logger.Info("using GitHub token authentication")
		return github.TokenHTTPClient(ctx, creds.GitHub), nil
	}
	ghApp, err := github.NewAppClient(creds.GitHubAppID, creds.GitHubPrivateKey, cfg.GitHub.Org, cfg.GitHub.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("create GitHub App client: %w", err)
	}
	logger.Info("using GitHub App authentication", "app_id", creds.GitHubAppID, "org", cfg.GitHub.Org)
	return ghApp.HTTPClient(ctx), nil
}

// openStore opens the configured backend. A dry run copies the saved state into
// memory so nothing is ever written back.
func openStore(ctx context.Context, cfg *config.Config, dryRun bool) (state.Store, error) {
	var store state.Store
	switch cfg.StateBackend {
	case config.BackendFido:
		fs, err := state.NewFidoStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("create fido store: %w", err)
		}
		store = fs
	case config.BackendSQLite:
		ss, err := state.OpenSQLiteStore(cfg.DataPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store = ss
	default:
		store = state.NewFileStore(cfg.DataPath)
	}

	if !dryRun {
		return store, nil
	}

	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()
	st, err := store.Load(ctx)
	switch {
	case errors.Is(err, state.ErrNotFound):
		return state.NewMemoryStore(nil), nil
	case err != nil:
		return nil, fmt.Errorf("load state for dry run: %w", err)
	}
	return state.NewMemoryStore(st), nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

// newLoop fetches the giver account and wires the dispatch loop.
func (a *app) newLoop(ctx context.Context) (*dispatch.Loop, error) {
	me, err := a.bonusly.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch giver account: %w", err)
	}
	a.logger.Info("rewarding as", "giver", me.Email, "dry_run", a.dryRun)

	var rewarder dispatch.Rewarder = a.bonusly
	if a.dryRun {
		rewarder = dispatch.DryRunRewarder{Logger: a.logger}
	}

	var notifier dispatch.Notifier
	if a.cfg.NotifySendUser != "" && !a.dryRun {
		notifier = notify.New(a.cfg.NotifySendUser, a.logger)
	}

	engine := reconcile.New(a.gh, a.resolver, a.cfg.GitHub.User, a.cfg.GitHub.Org, a.logger)
	return dispatch.New(dispatch.LoopConfig{
		Reconciler: engine,
		Rewarder:   rewarder,
		Directory:  a.bonusly,
		Store:      a.store,
		Notifier:   notifier,
		Logger:     a.logger.With("author", a.cfg.GitHub.User, "org", a.cfg.GitHub.Org),
		Settings: dispatch.Settings{
			GiverEmail:      me.Email,
			Amount:          a.cfg.CherriesPerCheck,
			PollInterval:    a.cfg.PollInterval(),
			DirectoryMaxAge: a.cfg.DirectoryMaxAge(),
			DispatchPause:   a.cfg.DispatchPause(),
		},
	}), nil
}

func runDaemon(ctx context.Context, opts *rootOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	loop, err := a.newLoop(ctx)
	if err != nil {
		return err
	}
	st, err := loop.Bootstrap(ctx)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return loop.Run(ctx, st)
	})

	if a.cfg.HealthAddr != "" {
		server := &http.Server{
			Addr:         a.cfg.HealthAddr,
			Handler:      newRouter(loop),
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
			IdleTimeout:  serverIdleTimeout,
		}

		eg.Go(func() error {
			a.logger.Info("starting health server", "addr", a.cfg.HealthAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})

		eg.Go(func() error {
			<-ctx.Done()
			a.logger.Info("shutting down health server")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

func runOnce(ctx context.Context, opts *rootOptions) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	loop, err := a.newLoop(ctx)
	if err != nil {
		return err
	}
	st, err := loop.Bootstrap(ctx)
	if err != nil {
		return err
	}
	return loop.RunCycle(ctx, st)
}

// runResolve prints the email login resolves to and the rule that matched. It uses
// the saved directory when there is one and never writes state.
func runResolve(ctx context.Context, opts *rootOptions, login string, stdout io.Writer) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	var directory []bonusly.User
	st, err := a.store.Load(ctx)
	switch {
	case err == nil:
		directory = st.DirectoryUsers
	case errors.Is(err, state.ErrNotFound):
		if directory, err = a.bonusly.Users(ctx); err != nil {
			return fmt.Errorf("fetch directory: %w", err)
		}
	default:
		return fmt.Errorf("load state: %w", err)
	}

	member, err := a.gh.Member(ctx, login)
	if err != nil {
		return err
	}

	email, rule, ok := a.resolver.Resolve(member, directory)
	if !ok {
		return fmt.Errorf("no email found for %s (name %q, email %q) among %d directory users",
			login, member.Name, member.Email, len(directory))
	}
	if _, err := fmt.Fprintf(stdout, "%s\t%s\n", email, rule); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
