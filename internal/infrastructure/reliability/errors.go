package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// ErrCircuitOpen is matched by every *CircuitOpenError
var ErrCircuitOpen = errors.New("reliability: circuit open")

// CircuitOpenError is returned without invoking the operation while a
// breaker is open or its half-open trial is already in flight
type CircuitOpenError struct {
	Key string
	// RetryAfter is the remaining time before a trial call is admitted
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (retry in %s)", e.Key, e.RetryAfter.Round(time.Millisecond))
}

// Is lets errors.Is match ErrCircuitOpen
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// IsRetryable is the default retry predicate: network and timeout failures,
// rate limiting and HTTP 429/5xx are retried. Open circuits, authentication
// failures, unsupported operations and cancelled callers are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	if me, ok := marketplace.AsMarketplaceError(err); ok {
		switch me.Kind {
		case marketplace.ErrorKindAuthentication, marketplace.ErrorKindUnsupported:
			return false
		case marketplace.ErrorKindRateLimited:
			return true
		}
		if me.StatusCode == 429 || me.StatusCode >= 500 {
			return true
		}
		if me.StatusCode != 0 {
			return false
		}
	}
	return isNetworkError(err)
}

// isNetworkError checks for transport level failures
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// isBreakerNeutral reports errors that say nothing about the dependency's
// health and therefore neither trip nor close a breaker
func isBreakerNeutral(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, marketplace.ErrUnsupportedOperation)
}
