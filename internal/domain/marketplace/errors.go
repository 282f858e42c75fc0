package marketplace

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a MarketplaceError
type ErrorKind string

const (
	ErrorKindGeneric        ErrorKind = "generic"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindUnsupported    ErrorKind = "unsupported"
)

// Sentinels matched by (*MarketplaceError).Is
var (
	ErrAuthentication       = errors.New("marketplace: authentication failed")
	ErrRateLimited          = errors.New("marketplace: rate limited")
	ErrUnsupportedOperation = errors.New("marketplace: unsupported operation")
)

// MarketplaceError is returned by every adapter operation that fails.
type MarketplaceError struct {
	Marketplace Name
	Operation   string
	Message     string
	Kind        ErrorKind
	// StatusCode is the HTTP status observed, 0 when the request never completed
	StatusCode int
	// RetryAfter is the server supplied back-off hint for rate limited errors
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface
func (e *MarketplaceError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Marketplace, e.Operation, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause
func (e *MarketplaceError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the kind sentinels
func (e *MarketplaceError) Is(target error) bool {
	switch target {
	case ErrAuthentication:
		return e.Kind == ErrorKindAuthentication
	case ErrRateLimited:
		return e.Kind == ErrorKindRateLimited
	case ErrUnsupportedOperation:
		return e.Kind == ErrorKindUnsupported
	}
	return false
}

// NewError creates a generic marketplace error
func NewError(name Name, operation, message string, cause error) *MarketplaceError {
	return &MarketplaceError{
		Marketplace: name,
		Operation:   operation,
		Message:     message,
		Kind:        ErrorKindGeneric,
		Cause:       cause,
	}
}

// NewHTTPError creates a generic marketplace error carrying the response status
func NewHTTPError(name Name, operation string, statusCode int, message string) *MarketplaceError {
	e := NewError(name, operation, message, nil)
	e.StatusCode = statusCode
	return e
}

// NewAuthenticationError is returned when no usable token can be obtained
func NewAuthenticationError(name Name, message string, cause error) *MarketplaceError {
	return &MarketplaceError{
		Marketplace: name,
		Operation:   "authenticate",
		Message:     message,
		Kind:        ErrorKindAuthentication,
		Cause:       cause,
	}
}

// NewRateLimitError is returned when the marketplace answered 429
func NewRateLimitError(name Name, operation string, retryAfter time.Duration) *MarketplaceError {
	return &MarketplaceError{
		Marketplace: name,
		Operation:   operation,
		Message:     "rate limit exceeded",
		Kind:        ErrorKindRateLimited,
		StatusCode:  429,
		RetryAfter:  retryAfter,
	}
}

// NewUnsupportedError is returned for operations a marketplace cannot perform
func NewUnsupportedError(name Name, operation string) *MarketplaceError {
	return &MarketplaceError{
		Marketplace: name,
		Operation:   operation,
		Message:     "operation not supported by this marketplace",
		Kind:        ErrorKindUnsupported,
	}
}

// AsMarketplaceError extracts a *MarketplaceError from an error chain
func AsMarketplaceError(err error) (*MarketplaceError, bool) {
	var me *MarketplaceError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
