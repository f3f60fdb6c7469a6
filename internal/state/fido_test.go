package state

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/fido"
	"github.com/codeGROOVE-dev/fido/pkg/store/null"
)

// newTestFidoStore creates a FidoStore with a null backend for testing.
func newTestFidoStore(t *testing.T) *FidoStore {
	t.Helper()

	store, err := NewFidoStore(context.Background(),
		WithBackend(null.New[string, Snapshot]()),
		WithDatabase("cherries-test"),
	)
	if err != nil {
		t.Fatalf("failed to create test fido store: %v", err)
	}
	return store
}

func TestFidoStore_SaveLoad(t *testing.T) {
	store := newTestFidoStore(t)
	defer store.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}

	st := populatedState()
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Served from fido's memory tier.
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got.Snapshot(), st.Snapshot()) {
		t.Errorf("Load() = %+v, want %+v", got.Snapshot(), st.Snapshot())
	}
}

func TestFidoStore_LoadReturnsCopy(t *testing.T) {
	store := newTestFidoStore(t)
	defer store.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	if err := store.Save(ctx, populatedState()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	first, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	first.MarkReplied(prB, "mallory")

	second, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if second.HasReplied(prB, "mallory") {
		t.Error("unsaved change leaked into the store")
	}
}

func TestFidoStore_Close(t *testing.T) {
	store := newTestFidoStore(t)
	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// expiringBackend holds one snapshot and records the expiry of every write.
type expiringBackend struct {
	fido.Store[string, Snapshot]
	snap     Snapshot
	found    bool
	expiries []time.Time
}

func (b *expiringBackend) Get(_ context.Context, _ string) (Snapshot, time.Time, bool, error) {
	return b.snap, time.Time{}, b.found, nil
}

func (b *expiringBackend) Set(_ context.Context, _ string, v Snapshot, expiry time.Time) error {
	b.snap, b.found = v, true
	b.expiries = append(b.expiries, expiry)
	return nil
}

func TestFidoStore_LoadRenewsExpiry(t *testing.T) {
	saved := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	saved.MarkReplied(prA, "bob")

	backend := &expiringBackend{Store: null.New[string, Snapshot](), snap: saved.Snapshot(), found: true}
	store, err := NewFidoStore(context.Background(), WithBackend(backend))
	if err != nil {
		t.Fatalf("NewFidoStore() error = %v", err)
	}
	defer store.Close() //nolint:errcheck // test cleanup

	before := time.Now()
	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !st.HasReplied(prA, "bob") {
		t.Error("loaded state lost replied entry")
	}
	if len(backend.expiries) != 1 {
		t.Fatalf("backend writes = %d, want 1 expiry refresh", len(backend.expiries))
	}
	if got, earliest := backend.expiries[0], before.Add(fidoStateTTL-time.Minute); got.Before(earliest) {
		t.Errorf("refreshed expiry = %v, want at least %v", got, earliest)
	}
}
