// Package cache stores prior API responses keyed by request identity and
// classifies lookups as Fresh, Stale, or Miss.
//
// Fresh entries are served without a network round trip. Stale entries
// carry a validator (ETag or Last-Modified) that the request engine
// attaches to a conditional refetch; a 304 confirmation advances the
// entry's expiry without touching the payload. Entries that can neither
// be served fresh nor revalidated are evicted lazily on lookup once they
// pass a configurable age ceiling.
//
// Storage is pluggable: the in-memory store is the default and matches
// the process-lifetime contract of the cache, the Redis store shares
// entries between processes of a proxy deployment.
package cache
