package cache

import (
	"net/http"
	"time"
)

// Entry is a cached API response. Owned exclusively by this package;
// callers receive copies and never mutate stored entries directly.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match). Empty if absent.
	ETag string `json:"etag"`

	// LastModified for conditional requests (If-Modified-Since).
	// Zero if absent.
	LastModified time.Time `json:"last_modified"`

	// Expires is when the entry becomes stale. The zero time means
	// "always revalidate".
	Expires time.Time `json:"expires"`

	// StatusCode is the HTTP status code of the cached response.
	StatusCode int `json:"status_code"`

	// Headers are the response headers.
	Headers http.Header `json:"headers"`

	// FetchedAt is when the response was received from the network.
	FetchedAt time.Time `json:"fetched_at"`
}

// Fresh returns true if the entry may be served without revalidation.
func (e *Entry) Fresh(now time.Time) bool {
	return !e.Expires.IsZero() && now.Before(e.Expires)
}

// HasValidator returns true if the entry can be revalidated with a
// conditional request.
func (e *Entry) HasValidator() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// TTL returns the time until the entry expires. Returns 0 when the entry
// has no expiry or is already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was fetched.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}
