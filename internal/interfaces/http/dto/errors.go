package dto

import "net/http"

// Error codes returned in ErrorInfo.Code. Clients branch on these, so they
// never change once published.
const (
	ErrCodeInternal   = "ERR_INTERNAL"
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeValidation carries per-field details
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeInvalidInput    = "ERR_INVALID_INPUT"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"

	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"

	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConcurrencyConflict means the optimistic version check failed
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
	ErrCodeBusinessRule        = "ERR_BUSINESS_RULE"
	// ErrCodeStaleUpdate means a newer price/stock write already landed
	ErrCodeStaleUpdate = "ERR_STALE_UPDATE"

	ErrCodeMarketplaceNotConfigured = "ERR_MARKETPLACE_NOT_CONFIGURED"
	ErrCodeMarketplaceDisabled      = "ERR_MARKETPLACE_DISABLED"
	// ErrCodeMarketplaceAuth means the marketplace rejected our credentials
	ErrCodeMarketplaceAuth = "ERR_MARKETPLACE_AUTH"
	// ErrCodeMarketplaceUnavailable covers remote failures, open breakers and
	// remote throttling
	ErrCodeMarketplaceUnavailable = "ERR_MARKETPLACE_UNAVAILABLE"
	ErrCodeUnsupportedOperation   = "ERR_UNSUPPORTED_OPERATION"
	ErrCodeNoMarketplaceLinkage   = "ERR_NO_MARKETPLACE_LINKAGE"

	ErrCodeJobAlreadyQueued     = "ERR_JOB_ALREADY_QUEUED"
	ErrCodeSchedulerUnavailable = "ERR_SCHEDULER_UNAVAILABLE"
)

var statusByCode = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeStaleUpdate:         http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeBusinessRule:        http.StatusUnprocessableEntity,

	ErrCodeMarketplaceNotConfigured: http.StatusNotFound,
	ErrCodeMarketplaceDisabled:      http.StatusUnprocessableEntity,
	ErrCodeMarketplaceAuth:          http.StatusBadGateway,
	ErrCodeMarketplaceUnavailable:   http.StatusServiceUnavailable,
	ErrCodeUnsupportedOperation:     http.StatusNotImplemented,
	ErrCodeNoMarketplaceLinkage:     http.StatusUnprocessableEntity,

	ErrCodeJobAlreadyQueued:     http.StatusConflict,
	ErrCodeSchedulerUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatus returns the status for an error code, 500 when unknown
func HTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodes translates shared.DomainError codes into response codes
var domainCodes = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_STATE":        ErrCodeInvalidState,
	"UNAUTHORIZED":         ErrCodeUnauthorized,
	"FORBIDDEN":            ErrCodeForbidden,
	"CONCURRENCY_CONFLICT": ErrCodeConcurrencyConflict,

	"PRODUCT_NOT_FOUND":     ErrCodeNotFound,
	"CATEGORY_NOT_FOUND":    ErrCodeNotFound,
	"CATEGORY_SLUG_EXISTS":  ErrCodeAlreadyExists,
	"INVALID_CATEGORY_NAME": ErrCodeInvalidInput,
	"STALE_UPDATE":          ErrCodeStaleUpdate,

	"ORDER_NOT_FOUND":        ErrCodeNotFound,
	"ORDER_ITEM_NOT_FOUND":   ErrCodeNotFound,
	"RETURN_NOT_FOUND":       ErrCodeNotFound,
	"ORDER_HAS_NO_ITEMS":     ErrCodeInvalidState,
	"NO_MARKETPLACE_LINKAGE": ErrCodeNoMarketplaceLinkage,
}

// FromDomainCode maps a domain error code to its response code. Codes that
// are already response codes, or unknown, come back unchanged.
func FromDomainCode(code string) string {
	if mapped, ok := domainCodes[code]; ok {
		return mapped
	}
	return code
}
