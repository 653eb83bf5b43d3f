// Package client provides the core request engine: cache-first execution
// of API calls with rate limiting, conditional revalidation, and bounded
// retry classification.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/evetools/evedata/pkg/cache"
	"github.com/evetools/evedata/pkg/ratelimit"
)

// Prometheus metrics for request operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_requests_total",
		Help: "Total requests by route and outcome",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "esi_request_duration_seconds",
		Help:    "Request duration in seconds by route",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})

	conditionalRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esi_conditional_requests_total",
		Help: "Total conditional requests sent with a cached validator",
	})

	notModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esi_304_responses_total",
		Help: "Total 304 Not Modified confirmations",
	})
)

// BuildFunc constructs a fresh outbound request for one attempt. The
// engine attaches validator and User-Agent headers itself.
type BuildFunc func(ctx context.Context) (*http.Request, error)

// Response is the outcome of a successful Execute call.
type Response struct {
	// Data is the response payload.
	Data []byte

	// StatusCode is the HTTP status of the origin response.
	StatusCode int

	// Headers are the origin response headers.
	Headers http.Header

	// ETag is the validator of the payload, if any.
	ETag string

	// LastModified is the payload's Last-Modified validator, if any.
	LastModified time.Time

	// Expires is when the payload stops being fresh. Zero when the
	// server gave no freshness directive.
	Expires time.Time

	// Pages is the total page count for paginated routes (X-Pages),
	// 0 when the route is not paginated.
	Pages int

	// FromCache is true when the payload was served from the cache,
	// either fresh or via a 304 confirmation.
	FromCache bool

	// RequestedAt is when the engine started handling the request.
	RequestedAt time.Time
}

// Config holds the engine configuration.
type Config struct {
	// BaseURL of the upstream API, used by the Get convenience builder.
	BaseURL string

	// UserAgent is required by the upstream.
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// HTTPClient performs the network calls. Defaults to a client with
	// a 30s timeout.
	HTTPClient *http.Client

	// CacheStore is the response cache backend. Defaults to in-memory.
	CacheStore cache.Store

	// CacheMaxEntryAge is the eviction ceiling for unusable entries.
	CacheMaxEntryAge time.Duration

	// RateLimit and RateWindow seed the per-class budgets until the
	// server reports authoritative values.
	RateLimit  int
	RateWindow time.Duration

	// Retry bounds the transient/server retry loop.
	Retry RetryConfig

	// MaxThrottleRetries bounds how often a throttled call is retried
	// after the server-mandated delay. Counted separately from Retry.
	MaxThrottleRetries int

	// DefaultThrottleDelay applies when a throttle response carries no
	// usable Retry-After value.
	DefaultThrottleDelay time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:              "https://esi.evetech.net",
		UserAgent:            userAgent,
		Retry:                DefaultRetryConfig(),
		MaxThrottleRetries:   2,
		DefaultThrottleDelay: 10 * time.Second,
	}
}

// Engine orchestrates outbound calls: cache lookup, rate-limit admission,
// the network round trip, cache update, and outcome classification.
// Safe for concurrent use.
type Engine struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	cfg        Config
	logger     zerolog.Logger
}

// New creates a request engine.
func New(cfg Config) (*Engine, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://esi.evetech.net"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.MaxThrottleRetries <= 0 {
		cfg.MaxThrottleRetries = 2
	}
	if cfg.DefaultThrottleDelay <= 0 {
		cfg.DefaultThrottleDelay = 10 * time.Second
	}

	logger := log.With().Str("component", "client").Logger()

	limiter := ratelimit.NewLimiter(cfg.RateLimit, cfg.RateWindow,
		log.With().Str("component", "ratelimit").Logger())

	cacheManager := cache.NewManager(cache.Config{
		Store:       cfg.CacheStore,
		MaxEntryAge: cfg.CacheMaxEntryAge,
	}, log.With().Str("component", "cache").Logger())

	return &Engine{
		httpClient: cfg.HTTPClient,
		limiter:    limiter,
		cache:      cacheManager,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Limiter exposes the rate limiter for status reporting.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Cache exposes the cache manager, mainly for tests and diagnostics.
func (e *Engine) Cache() *cache.Manager {
	return e.cache
}

// Execute performs a logical request. A fresh cache entry is returned
// without a network call; a stale entry is revalidated conditionally.
// Terminal failures are returned as a *RequestError so callers can
// distinguish the failure class.
func (e *Engine) Execute(ctx context.Context, key cache.Key, build BuildFunc) (*Response, error) {
	route := key.Route
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	// Step 1: cache. A fresh hit costs no network call and no budget.
	looked := e.cache.Lookup(ctx, key)
	if looked.State == cache.Fresh {
		requestsTotal.WithLabelValues(route, "cache").Inc()
		e.logger.Debug().Str("route", route).Msg("Fresh cache hit, no network call")
		return entryResponse(looked.Entry, looked.Entry.Expires, start), nil
	}

	var cached *cache.Entry
	if looked.State == cache.Stale {
		cached = looked.Entry
	}

	class := ratelimit.RouteClass(key.Class())
	transient := newBackoff(e.cfg.Retry)
	throttles := 0

	for {
		// Step 2: rate-limit admission, suspends until budget allows.
		if err := e.limiter.Acquire(ctx, class); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		// Step 3: conditional revalidation for stale entries.
		if cached != nil {
			cache.AddConditionalHeaders(req, cached)
			conditionalRequestsTotal.Inc()
			e.logger.Debug().Str("route", route).Str("etag", cached.ETag).Msg("Sending conditional request")
		}

		req.Header.Set("User-Agent", e.cfg.UserAgent)
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(route, "network_error").Inc()
			e.logger.Warn().Err(err).Str("route", route).Msg("Network failure")

			delay, ok := transient.Next(ErrorClassNetwork)
			if !ok {
				return nil, &RequestError{
					Class:   ErrorClassNetwork,
					Message: "network failure",
					Err:     fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, e.cfg.Retry.MaxAttempts, err),
				}
			}
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		// Step 4: budget headers are present on most responses and are
		// fed back regardless of the outcome classification.
		if err := e.limiter.UpdateFromHeaders(class, resp.Header); err != nil {
			e.logger.Warn().Err(err).Str("route", route).Msg("Failed to update rate budget from headers")
		}

		e.logRouteWarnings(route, resp.Header)

		outcome, retErr := e.classifyResponse(ctx, key, resp, cached, start)
		if outcome != nil || retErr != nil {
			return outcome, retErr
		}

		// nil/nil means "retry": the response was throttled, transient,
		// or a server error and the body has been drained.
		switch classifyStatus(resp.StatusCode) {
		case ErrorClassThrottled:
			throttles++
			if throttles > e.cfg.MaxThrottleRetries {
				errorsTotal.WithLabelValues(string(ErrorClassThrottled)).Inc()
				return nil, &RequestError{
					StatusCode: resp.StatusCode,
					Class:      ErrorClassThrottled,
					Message:    resp.Status,
					Err:        ErrThrottleExhausted,
				}
			}
			retryAfter := parseRetryAfter(resp.Header, e.cfg.DefaultThrottleDelay)
			e.limiter.ForceThrottle(class, retryAfter)
			e.logger.Warn().
				Str("route", route).
				Dur("retry_after", retryAfter).
				Int("throttle_retries", throttles).
				Msg("Throttled by server, waiting mandated delay")
			// Acquire suspends until the forced reset passes.

		case ErrorClassServer:
			delay, ok := transient.Next(ErrorClassServer)
			if !ok {
				errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
				return nil, &RequestError{
					StatusCode: resp.StatusCode,
					Class:      ErrorClassServer,
					Message:    resp.Status,
					Err:        fmt.Errorf("%w after %d attempts", ErrRetryExhausted, e.cfg.Retry.MaxAttempts),
				}
			}
			e.logger.Warn().
				Str("route", route).
				Int("status", resp.StatusCode).
				Dur("backoff", delay).
				Msg("Server error, retrying after backoff")
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
}

// classifyResponse handles the terminal outcomes of one attempt. It
// returns nil, nil when the attempt should be retried, in which case the
// response body has been consumed.
func (e *Engine) classifyResponse(ctx context.Context, key cache.Key, resp *http.Response, cached *cache.Entry, start time.Time) (*Response, error) {
	route := key.Route

	switch {
	case resp.StatusCode == http.StatusNotModified:
		drain(resp)
		notModifiedTotal.Inc()
		requestsTotal.WithLabelValues(route, "304").Inc()

		if cached == nil {
			// Upstream confirmed a validator we never sent.
			errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassClient,
				Message:    "not modified without a cached entry",
			}
		}

		newExpires := cache.ParseExpiry(resp.Header, time.Now())
		e.cache.RefreshNotModified(ctx, key, newExpires)
		e.logger.Debug().Str("route", route).Msg("304 Not Modified, serving cached payload")
		return entryResponse(cached, newExpires, start), nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			// Partial payload: never stored, surfaced as a network failure.
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassNetwork,
				Message:    "read response body",
				Err:        err,
			}
		}

		requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

		now := time.Now()
		entry := cache.EntryFromResponse(resp, body, now)
		if resp.StatusCode == http.StatusOK {
			e.cache.Store(ctx, key, entry)
		}

		return &Response{
			Data:         body,
			StatusCode:   resp.StatusCode,
			Headers:      resp.Header.Clone(),
			ETag:         entry.ETag,
			LastModified: entry.LastModified,
			Expires:      entry.Expires,
			Pages:        parsePages(resp.Header),
			RequestedAt:  start,
		}, nil

	case classifyStatus(resp.StatusCode) == ErrorClassClient:
		drain(resp)
		errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()
		e.logger.Warn().
			Str("route", route).
			Int("status", resp.StatusCode).
			Msg("Client error, not retrying")
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    resp.Status,
		}

	default:
		drain(resp)
		requestsTotal.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

		class := classifyStatus(resp.StatusCode)
		if class == ErrorClassThrottled || class == ErrorClassServer {
			// Retried by Execute.
			return nil, nil
		}

		// Unexpected redirect or informational status.
		errorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassClient,
			Message:    resp.Status,
		}
	}
}

// Get performs a GET against a route template of the configured base URL.
// params resolve the template, query carries response-affecting query
// parameters.
func (e *Engine) Get(ctx context.Context, route string, params map[string]string, query url.Values) (*Response, error) {
	key := cache.Key{
		Method:      http.MethodGet,
		Route:       route,
		PathParams:  params,
		QueryParams: query,
	}

	return e.Execute(ctx, key, func(ctx context.Context) (*http.Request, error) {
		target := strings.TrimRight(e.cfg.BaseURL, "/") + key.Path()
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		return req, nil
	})
}

// FetchPage fetches a single page of a paginated route and reports the
// total page count. Implements the pagination fan-out contract.
func (e *Engine) FetchPage(ctx context.Context, route string, pageNum int) ([]byte, int, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(pageNum))

	resp, err := e.Get(ctx, route, nil, query)
	if err != nil {
		return nil, 0, err
	}

	pages := resp.Pages
	if pages == 0 {
		pages = 1
	}
	return resp.Data, pages, nil
}

// logRouteWarnings surfaces upstream route lifecycle warnings (199 means
// an update is available, 299 means the route is deprecated).
func (e *Engine) logRouteWarnings(route string, headers http.Header) {
	warning := headers.Get("Warning")
	if warning == "" {
		return
	}

	switch {
	case strings.HasPrefix(warning, "199"):
		e.logger.Info().Str("route", route).Str("warning", warning).Msg("Route has an update available")
	case strings.HasPrefix(warning, "299"):
		e.logger.Warn().Str("route", route).Str("warning", warning).Msg("Route is deprecated")
	default:
		e.logger.Warn().Str("route", route).Str("warning", warning).Msg("Route warning")
	}
}

// entryResponse builds a Response from a cache entry.
func entryResponse(entry *cache.Entry, expires time.Time, start time.Time) *Response {
	return &Response{
		Data:         entry.Data,
		StatusCode:   entry.StatusCode,
		Headers:      entry.Headers,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		Expires:      expires,
		Pages:        parsePages(entry.Headers),
		FromCache:    true,
		RequestedAt:  start,
	}
}

// parseRetryAfter reads a Retry-After value given as delay seconds or an
// HTTP date. Falls back to the given default.
func parseRetryAfter(headers http.Header, fallback time.Duration) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return fallback
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}

	return fallback
}

// parsePages reads the X-Pages header of paginated routes.
func parsePages(headers http.Header) int {
	if headers == nil {
		return 0
	}
	pages, err := strconv.Atoi(headers.Get("X-Pages"))
	if err != nil || pages < 0 {
		return 0
	}
	return pages
}

// drain discards and closes a response body so the connection can be
// reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
