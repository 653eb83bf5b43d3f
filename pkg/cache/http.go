package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// EntryFromResponse builds a cache entry from a response whose body has
// already been fully read by the caller. The store operation is only ever
// invoked with a complete payload.
func EntryFromResponse(resp *http.Response, body []byte, now time.Time) *Entry {
	entry := &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		FetchedAt:  now,
	}

	entry.Expires = ParseExpiry(resp.Header, now)

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// ParseExpiry extracts the freshness lifetime from response headers.
// Cache-Control max-age takes precedence over Expires. Returns the zero
// time when no usable directive is present or the expiry is already in
// the past, which the cache treats as "always revalidate".
func ParseExpiry(headers http.Header, now time.Time) time.Time {
	if maxAge, ok := parseMaxAge(headers.Get("Cache-Control")); ok {
		if maxAge <= 0 {
			return time.Time{}
		}
		return now.Add(maxAge)
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return time.Time{}
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil || !expires.After(now) {
		return time.Time{}
	}

	return expires
}

// parseMaxAge extracts the max-age directive from a Cache-Control value.
func parseMaxAge(cacheControl string) (time.Duration, bool) {
	if cacheControl == "" {
		return 0, false
	}

	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		value, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	return 0, false
}

// AddConditionalHeaders attaches the entry's validator to an outbound
// request. ETag is preferred over Last-Modified.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
