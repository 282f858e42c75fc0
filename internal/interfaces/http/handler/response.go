package handler

import "github.com/storefront/marketsync/internal/interfaces/http/dto"

// APIResponse is the typed form of dto.Response, used by clients and tests
// that decode a known payload
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}
