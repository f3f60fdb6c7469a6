package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/fido"
	"github.com/codeGROOVE-dev/fido/pkg/store/cloudrun"
)

const (
	// fidoStateKey is the single key all state is stored under.
	fidoStateKey = "state"
	// fidoStateTTL is counted from the last Save or Load. Save runs every cycle and
	// Load at startup, so state only expires after the daemon has not run for this long.
	fidoStateTTL = 365 * 24 * time.Hour
)

// FidoStore implements Store using fido with a CloudRun backend, for deployments
// without a writable local disk.
//
// Requires the Datastore database named by the store (default "cherries-state").
type FidoStore struct {
	cache *fido.TieredCache[string, Snapshot]
	mu    sync.Mutex
}

// FidoStoreOption configures a FidoStore.
type FidoStoreOption func(*fidoStoreOptions)

type fidoStoreOptions struct {
	backend fido.Store[string, Snapshot]
	name    string
}

// WithBackend sets a custom persistence tier, typically null.New in tests.
func WithBackend(s fido.Store[string, Snapshot]) FidoStoreOption {
	return func(o *fidoStoreOptions) { o.backend = s }
}

// WithDatabase overrides the CloudRun database name.
func WithDatabase(name string) FidoStoreOption {
	return func(o *fidoStoreOptions) { o.name = name }
}

// NewFidoStore creates a fido-backed store.
// Uses CloudRun backend which auto-detects environment.
func NewFidoStore(ctx context.Context, opts ...FidoStoreOption) (*FidoStore, error) {
	o := fidoStoreOptions{name: "cherries-state"}
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = cloudrun.New[string, Snapshot](ctx, o.name)
		if err != nil {
			return nil, fmt.Errorf("create state store: %w", err)
		}
	}

	cache, err := fido.NewTiered(backend, fido.TTL(fidoStateTTL))
	if err != nil {
		return nil, fmt.Errorf("create state cache: %w", err)
	}

	slog.Info("initialized fido store", "database", o.name)
	return &FidoStore{cache: cache}, nil
}

// Load returns the saved state or ErrNotFound. A successful load also renews the
// state's expiry.
func (s *FidoStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, found, err := s.cache.Get(ctx, fidoStateKey)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	// Rewrite to push the expiry out; a restart after a long idle must not lose replied.
	if err := s.cache.Set(ctx, fidoStateKey, snap); err != nil {
		slog.Warn("failed to refresh state expiry", "error", err)
	}
	return FromSnapshot(snap), nil
}

// Save replaces the stored state.
func (s *FidoStore) Save(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Set(ctx, fidoStateKey, st.Snapshot()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *FidoStore) Close() error {
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("close state cache: %w", err)
	}
	return nil
}
