package models

import (
	"context"
	"errors"
	"net"
)

// ErrInsufficientBalance marks an order whose sized amount falls below the
// exchange minimum. It is never retried.
var ErrInsufficientBalance = errors.New("insufficient balance for minimum order size")

// IsTransient classifies an exchange call failure. Timeouts, rate limits and
// 5xx-class responses are retried with backoff; everything else aborts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return false
}
