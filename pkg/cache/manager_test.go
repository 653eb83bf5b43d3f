package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testManager(maxAge time.Duration) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	m := NewManager(Config{Store: store, MaxEntryAge: maxAge}, zerolog.Nop())
	return m, store
}

func TestManager_LookupMiss(t *testing.T) {
	m, _ := testManager(0)

	res := m.Lookup(context.Background(), Key{Route: "/v1/nothing/"})
	if res.State != Miss {
		t.Errorf("State = %v, want Miss", res.State)
	}
	if res.Entry != nil {
		t.Error("Entry != nil on miss")
	}
}

func TestManager_StoreAndLookupFresh(t *testing.T) {
	m, _ := testManager(0)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	m.Store(ctx, key, &Entry{
		Data:    []byte(`{"players":12345}`),
		ETag:    `"v1"`,
		Expires: time.Now().Add(5 * time.Minute),
	})

	res := m.Lookup(ctx, key)
	if res.State != Fresh {
		t.Fatalf("State = %v, want Fresh", res.State)
	}
	if string(res.Entry.Data) != `{"players":12345}` {
		t.Errorf("Data = %s", res.Entry.Data)
	}
}

func TestManager_ExpiredWithValidatorIsStale(t *testing.T) {
	m, store := testManager(0)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	// Bypass Store's past-expiry normalization to plant an expired entry.
	entry := &Entry{
		Data:      []byte("payload"),
		ETag:      `"v1"`,
		Expires:   time.Now().Add(-time.Second),
		FetchedAt: time.Now().Add(-time.Minute),
	}
	if err := store.Set(ctx, key.String(), entry, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res := m.Lookup(ctx, key)
	if res.State != Stale {
		t.Fatalf("State = %v, want Stale", res.State)
	}
	if res.Entry.ETag != `"v1"` {
		t.Errorf("ETag = %q, want validator preserved", res.Entry.ETag)
	}
}

func TestManager_NoValidatorNoExpiryIsMiss(t *testing.T) {
	m, _ := testManager(time.Hour)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	m.Store(ctx, key, &Entry{Data: []byte("payload")})

	if res := m.Lookup(ctx, key); res.State != Miss {
		t.Errorf("State = %v, want Miss for unusable entry", res.State)
	}
}

func TestManager_LazyEvictionPastCeiling(t *testing.T) {
	m, store := testManager(time.Minute)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	// Unusable and older than the ceiling.
	entry := &Entry{
		Data:      []byte("payload"),
		FetchedAt: time.Now().Add(-2 * time.Minute),
	}
	if err := store.Set(ctx, key.String(), entry, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if res := m.Lookup(ctx, key); res.State != Miss {
		t.Fatalf("State = %v, want Miss", res.State)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d entries after lookup, want eviction", store.Len())
	}
}

func TestManager_StoreNormalizesPastExpiry(t *testing.T) {
	m, store := testManager(0)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	m.Store(ctx, key, &Entry{
		Data:    []byte("payload"),
		ETag:    `"v1"`,
		Expires: time.Now().Add(-time.Hour),
	})

	stored, err := store.Get(ctx, key.String())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.Expires.IsZero() {
		t.Errorf("Expires = %v, want normalized to zero", stored.Expires)
	}
}

func TestManager_LastWriteWins(t *testing.T) {
	m, _ := testManager(0)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	m.Store(ctx, key, &Entry{Data: []byte("first"), Expires: time.Now().Add(time.Minute)})
	m.Store(ctx, key, &Entry{Data: []byte("second"), Expires: time.Now().Add(time.Minute)})

	res := m.Lookup(ctx, key)
	if res.State != Fresh {
		t.Fatalf("State = %v, want Fresh", res.State)
	}
	if string(res.Entry.Data) != "second" {
		t.Errorf("Data = %s, want last write", res.Entry.Data)
	}
}

func TestManager_RefreshNotModified(t *testing.T) {
	m, store := testManager(0)
	ctx := context.Background()
	key := Key{Route: "/v1/status/"}

	payload := []byte(`{"players":12345}`)
	entry := &Entry{
		Data:      payload,
		ETag:      `"v1"`,
		Expires:   time.Now().Add(-time.Second),
		FetchedAt: time.Now().Add(-time.Minute),
	}
	if err := store.Set(ctx, key.String(), entry, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	newExpires := time.Now().Add(10 * time.Minute)
	m.RefreshNotModified(ctx, key, newExpires)

	res := m.Lookup(ctx, key)
	if res.State != Fresh {
		t.Fatalf("State = %v, want Fresh after refresh", res.State)
	}
	if !bytes.Equal(res.Entry.Data, payload) {
		t.Error("payload changed by RefreshNotModified, must stay byte-identical")
	}
	if !res.Entry.Expires.Equal(newExpires) {
		t.Errorf("Expires = %v, want %v", res.Entry.Expires, newExpires)
	}
}

func TestManager_RefreshNotModified_MissingEntry(t *testing.T) {
	m, _ := testManager(0)

	// Must not panic or create an entry.
	m.RefreshNotModified(context.Background(), Key{Route: "/v1/none/"}, time.Now().Add(time.Minute))

	if res := m.Lookup(context.Background(), Key{Route: "/v1/none/"}); res.State != Miss {
		t.Errorf("State = %v, want Miss", res.State)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", &Entry{ETag: `"v1"`}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	first, _ := store.Get(ctx, "k")
	first.ETag = `"mutated"`

	second, _ := store.Get(ctx, "k")
	if second.ETag != `"v1"` {
		t.Error("mutating a returned entry leaked into the store")
	}
}

func TestMemoryStore_PayloadDetached(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []byte(`{"players":100}`)
	entry := &Entry{
		Data:    append([]byte(nil), original...),
		Headers: map[string][]string{"Content-Type": {"application/json"}},
	}
	if err := store.Set(ctx, "k", entry, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Mutating the slice given to Set must not reach the store.
	entry.Data[2] = 'X'
	entry.Headers.Set("Content-Type", "text/plain")

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(original) {
		t.Errorf("Data = %q, want %q", got.Data, original)
	}
	if ct := got.Headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	// Mutating a returned payload must not corrupt later reads.
	got.Data[2] = 'Y'
	got.Headers.Set("Content-Type", "text/plain")

	again, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(again.Data) != string(original) {
		t.Error("mutating a returned payload leaked into the store")
	}
	if ct := again.Headers.Get("Content-Type"); ct != "application/json" {
		t.Error("mutating returned headers leaked into the store")
	}
}
