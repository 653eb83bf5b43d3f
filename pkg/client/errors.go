package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents timeouts, resets, and other transport
	// failures. Retried with backoff.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassThrottled represents an explicit server throttle (429 or
	// the legacy 420 error-limited status). Retried after the mandated
	// delay on its own bounded counter.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassClient represents 4xx client errors. Never retried.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors. Retried with backoff.
	ErrorClassServer ErrorClass = "server"
)

// Sentinel errors returned by the engine.
var (
	// ErrRetryExhausted is returned when the bounded retry budget for
	// transient and server failures runs out.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrThrottleExhausted is returned when the server keeps throttling
	// past the bounded throttle-retry count.
	ErrThrottleExhausted = errors.New("throttle retries exhausted")
)

// RequestError is the typed terminal failure of an Execute call.
type RequestError struct {
	// StatusCode is the HTTP status of the failing response, 0 for
	// network-layer failures.
	StatusCode int

	// Class is the failure classification.
	Class ErrorClass

	// Message describes the failure.
	Message string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests || status == 420:
		// 420 is the upstream's legacy "error limited" status.
		return ErrorClassThrottled
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}
