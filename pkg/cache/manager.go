package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// State classifies a cache lookup.
type State int

const (
	// Miss means no usable entry exists; the request goes out unconditionally.
	Miss State = iota

	// Fresh means the entry may be served without a network call.
	Fresh

	// Stale means the entry has expired but carries a validator for a
	// conditional refetch.
	Stale
)

// String returns the lookup state name.
func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Result is the outcome of a cache lookup. Entry is nil on a Miss.
type Result struct {
	State State
	Entry *Entry
}

// DefaultMaxEntryAge is the hard age ceiling for entries that can neither
// be served fresh nor revalidated.
const DefaultMaxEntryAge = 24 * time.Hour

// Config holds the cache manager configuration.
type Config struct {
	// Store is the cache backend. Defaults to an in-memory store.
	Store Store

	// MaxEntryAge is the hard ceiling after which an entry without
	// expiry and validator is evicted on lookup.
	MaxEntryAge time.Duration
}

// DefaultConfig returns a manager configuration with an in-memory store.
func DefaultConfig() Config {
	return Config{
		Store:       NewMemoryStore(),
		MaxEntryAge: DefaultMaxEntryAge,
	}
}

// Manager implements the Fresh/Stale/Miss state machine over a Store.
// It never surfaces errors to request-engine callers: backend failures
// are logged and degrade to a Miss.
type Manager struct {
	store  Store
	maxAge time.Duration
	logger zerolog.Logger
}

// NewManager creates a cache manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.MaxEntryAge <= 0 {
		cfg.MaxEntryAge = DefaultMaxEntryAge
	}
	return &Manager{
		store:  cfg.Store,
		maxAge: cfg.MaxEntryAge,
		logger: logger,
	}
}

// Lookup classifies the cached entry for a key.
func (m *Manager) Lookup(ctx context.Context, key Key) Result {
	cacheKey := key.String()
	now := time.Now()

	entry, err := m.store.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache get failed, degrading to miss")
		}
		CacheMisses.Inc()
		return Result{State: Miss}
	}

	if entry.Fresh(now) {
		CacheHits.WithLabelValues("fresh").Inc()
		m.logger.Debug().Str("key", cacheKey).Time("expires", entry.Expires).Msg("Cache hit (fresh)")
		return Result{State: Fresh, Entry: entry}
	}

	if entry.HasValidator() {
		CacheHits.WithLabelValues("stale").Inc()
		m.logger.Debug().Str("key", cacheKey).Str("etag", entry.ETag).Msg("Cache hit (stale)")
		return Result{State: Stale, Entry: entry}
	}

	// Not fresh and not revalidatable. Evict lazily once the entry has
	// passed the age ceiling to bound memory; no background sweep.
	if entry.Age(now) > m.maxAge {
		if err := m.store.Delete(ctx, cacheKey); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache eviction failed")
		} else {
			CacheEvictions.Inc()
			m.logger.Debug().Str("key", cacheKey).Msg("Evicted unusable cache entry")
		}
	}

	CacheMisses.Inc()
	return Result{State: Miss}
}

// Store inserts or overwrites the entry for a key. Last write wins: a
// fetch that completes later reflects the more recent round trip
// regardless of request issue order. A past expiry normalizes to absent.
func (m *Manager) Store(ctx context.Context, key Key, entry *Entry) {
	if entry == nil {
		return
	}

	cacheKey := key.String()
	now := time.Now()

	if !entry.Expires.IsZero() && !entry.Expires.After(now) {
		entry.Expires = time.Time{}
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = now
	}

	if err := m.store.Set(ctx, cacheKey, entry, m.backendTTL(entry, now)); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache set failed")
		return
	}

	m.logger.Debug().
		Str("key", cacheKey).
		Dur("ttl", entry.TTL(now)).
		Bool("has_validator", entry.HasValidator()).
		Msg("Cached response")
}

// RefreshNotModified advances the expiry of an existing entry after a 304
// confirmation. The payload stays byte-identical.
func (m *Manager) RefreshNotModified(ctx context.Context, key Key, newExpires time.Time) {
	cacheKey := key.String()
	now := time.Now()

	entry, err := m.store.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			CacheErrors.WithLabelValues("get").Inc()
		}
		m.logger.Debug().Str("key", cacheKey).Msg("No entry to refresh after 304")
		return
	}

	if !newExpires.After(now) {
		newExpires = time.Time{}
	}
	entry.Expires = newExpires
	entry.FetchedAt = now

	if err := m.store.Set(ctx, cacheKey, entry, m.backendTTL(entry, now)); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("key", cacheKey).Msg("Cache refresh failed")
		return
	}

	CacheRefreshes.Inc()
	m.logger.Debug().Str("key", cacheKey).Time("expires", newExpires).Msg("Refreshed entry after 304")
}

// backendTTL bounds how long the backend keeps an entry. Stale entries
// must outlive their expiry so the validator stays available, so the TTL
// is at least the age ceiling.
func (m *Manager) backendTTL(entry *Entry, now time.Time) time.Duration {
	ttl := m.maxAge
	if freshFor := entry.TTL(now); freshFor > ttl {
		ttl = freshFor
	}
	return ttl
}
