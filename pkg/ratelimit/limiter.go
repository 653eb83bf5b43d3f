package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	budgetRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "esi_errors_remaining",
		Help: "Requests remaining in the current rate budget window by route class",
	}, []string{"class"})

	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_rate_limit_waits_total",
		Help: "Total number of acquisitions that had to wait for budget reset",
	}, []string{"class"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_rate_limit_throttles_total",
		Help: "Total number of server-forced throttles by route class",
	}, []string{"class"})
)

// classState is the admission state of one route class. The wake channel is
// closed (and replaced) whenever an Update restores budget, so sleepers
// re-check early instead of waiting out the full window.
type classState struct {
	budget Budget
	wake   chan struct{}
}

// Limiter gates outbound requests against per-class rate budgets.
//
// Admission consumes one unit of the local budget; server-reported values
// fed through Update always overwrite the local count, since the true
// budget may be shared with other clients and is only knowable from the
// server's own counters.
type Limiter struct {
	mu      sync.Mutex
	classes map[RouteClass]*classState

	limit  int
	window time.Duration
	logger zerolog.Logger
}

// NewLimiter creates a limiter that assumes limit requests per window for
// every class until the server reports otherwise.
func NewLimiter(limit int, window time.Duration, logger zerolog.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		classes: make(map[RouteClass]*classState),
		limit:   limit,
		window:  window,
		logger:  logger,
	}
}

// state returns the class state, creating a fresh full budget on first use.
// Caller must hold l.mu.
func (l *Limiter) state(class RouteClass) *classState {
	st, ok := l.classes[class]
	if !ok {
		st = &classState{
			budget: Budget{
				Remaining: l.limit,
				Limit:     l.limit,
				ResetAt:   time.Now().Add(l.window),
			},
			wake: make(chan struct{}),
		}
		l.classes[class] = st
	}
	return st
}

// Acquire blocks until a request for the given class may proceed or ctx is
// done. Once the budget for a class reaches 0 no caller is admitted before
// the reset time; concurrent callers on the same class serialize here.
// Abandoning a suspended Acquire leaves the budget untouched.
func (l *Limiter) Acquire(ctx context.Context, class RouteClass) error {
	if class == "" {
		class = DefaultClass
	}

	waited := false
	for {
		l.mu.Lock()
		st := l.state(class)
		now := time.Now()

		// Window rolled over without a server report: refill locally.
		// The next response's headers overwrite this approximation.
		if st.budget.Exhausted() && now.After(st.budget.ResetAt) {
			st.budget.Remaining = st.budget.Limit
			st.budget.ResetAt = now.Add(l.window)
			st.budget.UpdatedAt = time.Time{}
			l.logger.Debug().
				Str("class", string(class)).
				Int("remaining", st.budget.Remaining).
				Msg("Budget window rolled over, refilled locally")
		}

		if !st.budget.Exhausted() {
			st.budget.Remaining--
			budgetRemaining.WithLabelValues(string(class)).Set(float64(st.budget.Remaining))
			l.mu.Unlock()
			return nil
		}

		wait := st.budget.TimeUntilReset()
		wake := st.wake
		l.mu.Unlock()

		if !waited {
			waited = true
			rateLimitWaitsTotal.WithLabelValues(string(class)).Inc()
			l.logger.Warn().
				Str("class", string(class)).
				Dur("wait", wait).
				Msg("Rate budget exhausted, waiting for reset")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

// Update overwrites the budget for a class from server-reported values.
// Remaining is clamped at 0. Sleepers are woken when budget is restored.
func (l *Limiter) Update(class RouteClass, remaining int, resetAt time.Time) {
	if class == "" {
		class = DefaultClass
	}
	if remaining < 0 {
		remaining = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(class)
	st.budget.Remaining = remaining
	if remaining > st.budget.Limit {
		st.budget.Limit = remaining
	}
	st.budget.ResetAt = resetAt
	st.budget.UpdatedAt = time.Now()

	budgetRemaining.WithLabelValues(string(class)).Set(float64(remaining))

	if remaining > 0 {
		close(st.wake)
		st.wake = make(chan struct{})
	}
}

// UpdateFromHeaders feeds the server-reported budget headers of a response
// into the limiter. Responses without budget headers are ignored.
func (l *Limiter) UpdateFromHeaders(class RouteClass, headers http.Header) error {
	remaining, resetIn, ok, err := ParseHeaders(headers)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	l.Update(class, remaining, time.Now().Add(resetIn))

	if remaining <= 0 {
		l.logger.Warn().
			Str("class", string(class)).
			Dur("reset_in", resetIn).
			Msg("Server reports rate budget exhausted")
	} else {
		l.logger.Debug().
			Str("class", string(class)).
			Int("remaining", remaining).
			Dur("reset_in", resetIn).
			Msg("Rate budget updated from headers")
	}

	return nil
}

// ForceThrottle zeroes the budget for a class until now+retryAfter,
// overriding any locally tracked state. Used on an explicit throttle
// response; the server-given delay is authoritative.
func (l *Limiter) ForceThrottle(class RouteClass, retryAfter time.Duration) {
	if class == "" {
		class = DefaultClass
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(class)
	st.budget.Remaining = 0
	st.budget.ResetAt = time.Now().Add(retryAfter)
	st.budget.UpdatedAt = time.Now()

	budgetRemaining.WithLabelValues(string(class)).Set(0)
	rateLimitThrottlesTotal.WithLabelValues(string(class)).Inc()

	l.logger.Warn().
		Str("class", string(class)).
		Dur("retry_after", retryAfter).
		Msg("Server throttle, budget forced to zero")
}

// Snapshot returns a copy of the current budget for a class.
func (l *Limiter) Snapshot(class RouteClass) Budget {
	if class == "" {
		class = DefaultClass
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(class).budget
}
