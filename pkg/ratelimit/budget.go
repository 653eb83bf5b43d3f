// Package ratelimit implements error-budget tracking and request admission
// for the upstream API. It monitors the X-ESI-Error-Limit-Remain and
// X-ESI-Error-Limit-Reset headers and suspends callers before the budget
// is overdrawn.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Upstream rate-budget headers.
const (
	HeaderRemain = "X-ESI-Error-Limit-Remain"
	HeaderReset  = "X-ESI-Error-Limit-Reset"
)

// Defaults used before the server has reported any budget.
const (
	// DefaultLimit is the assumed budget per window until headers arrive.
	DefaultLimit = 100

	// DefaultWindow is the assumed budget window until headers arrive.
	DefaultWindow = 60 * time.Second
)

// RouteClass groups requests that share a rate budget. Distinct classes
// are admitted independently.
type RouteClass string

// DefaultClass is used when a request carries no explicit class.
const DefaultClass RouteClass = "default"

// Budget is the admission budget for one route class.
//
// Remaining reflects the server's authoritative count when UpdatedAt is
// recent; between server reports it is decremented locally on admission as
// an approximation and is overwritten by the next Update.
type Budget struct {
	// Remaining is the number of requests that may still be admitted
	// before the window resets. Never negative.
	Remaining int `json:"remaining"`

	// Limit is the full budget of the window, used to refill Remaining
	// when a window rolls over without a server report.
	Limit int `json:"limit"`

	// ResetAt is when the current budget window ends.
	ResetAt time.Time `json:"reset_at"`

	// UpdatedAt is when this budget was last overwritten from
	// server-reported headers. Zero for purely local state.
	UpdatedAt time.Time `json:"updated_at"`
}

// Exhausted returns true if no request may be admitted before ResetAt.
func (b Budget) Exhausted() bool {
	return b.Remaining <= 0
}

// TimeUntilReset returns the duration until the budget window resets.
// Returns 0 if the reset time has already passed.
func (b Budget) TimeUntilReset() time.Duration {
	d := time.Until(b.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// ParseHeaders extracts the server-reported budget from response headers.
// Returns ok=false when the remain header is absent, which is normal for
// non-API responses and must not be treated as an error.
func ParseHeaders(headers http.Header) (remaining int, resetIn time.Duration, ok bool, err error) {
	remainStr := headers.Get(HeaderRemain)
	if remainStr == "" {
		return 0, 0, false, nil
	}

	remaining, err = strconv.Atoi(remainStr)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse %s header: %w", HeaderRemain, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return 0, 0, false, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return 0, 0, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	return remaining, time.Duration(resetSeconds) * time.Second, true, nil
}
