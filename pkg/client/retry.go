package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "esi_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for the bounded retry state machine.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the
	// initial request.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff is an explicit bounded retry state machine: an attempt counter
// and a delay schedule. Exceeding the attempt budget terminates the loop
// instead of recursing.
type backoff struct {
	cfg     RetryConfig
	attempt int
	delay   time.Duration
}

func newBackoff(cfg RetryConfig) *backoff {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2.0
	}
	return &backoff{cfg: cfg, delay: cfg.InitialBackoff}
}

// Next returns the delay before the next retry, or ok=false when the
// attempt budget is spent. Jitter (±20%) spreads concurrent retries.
func (b *backoff) Next(class ErrorClass) (time.Duration, bool) {
	if b.attempt >= b.cfg.MaxAttempts-1 {
		retryExhaustedTotal.WithLabelValues(string(class)).Inc()
		return 0, false
	}
	b.attempt++

	jittered := time.Duration(float64(b.delay) * (0.8 + rand.Float64()*0.4))

	b.delay = time.Duration(float64(b.delay) * b.cfg.BackoffMultiplier)
	if b.delay > b.cfg.MaxBackoff {
		b.delay = b.cfg.MaxBackoff
	}

	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(jittered.Seconds())

	return jittered, true
}

// Attempts returns the number of retries consumed so far.
func (b *backoff) Attempts() int {
	return b.attempt
}

// sleepContext waits for the given duration or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		log.Debug().Dur("remaining", d).Msg("Context cancelled during retry backoff")
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
