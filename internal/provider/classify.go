package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Class buckets a provider/transport failure for the retry wrapper.
type Class int

const (
	ClassRetriable Class = iota // transient: retry with backoff
	ClassRejected               // provider refused the request (non-retriable 4xx)
	ClassFatal                  // abort or unclassifiable
)

func (c Class) String() string {
	switch c {
	case ClassRetriable:
		return "retriable"
	case ClassRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// HTTPError wraps a provider HTTP failure with its status code.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.Status, e.Body)
}

// Classify maps a generation failure to a retry class.
//
// Retriable: connection failures, timeouts, rate limits, 408/429/5xx.
// Rejected: other 4xx (bad request, auth, content policy).
// Fatal: context cancellation (abort) and anything unrecognized.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 408 || httpErr.Status == 429:
			return ClassRetriable
		case httpErr.Status >= 500:
			return ClassRetriable
		case httpErr.Status >= 400:
			return ClassRejected
		}
		return ClassFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetriable
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassRetriable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassRetriable
	}
	return ClassFatal
}
