package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"github.com/storefront/marketsync/internal/infrastructure/scheduler"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
	"github.com/storefront/marketsync/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(string(logger.RequestIDKey)); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

// getOperator returns the authenticated operator, empty for anonymous requests
func getOperator(c *gin.Context) string {
	return middleware.GetJWTOperator(c)
}

// marketplaceParam parses the :marketplace path parameter and writes a 400
// when it names no known marketplace
func (h *BaseHandler) marketplaceParam(c *gin.Context) (marketplace.Name, bool) {
	name, err := marketplace.ParseName(c.Param("marketplace"))
	if err != nil {
		h.BadRequest(c, "Unknown marketplace: "+c.Param("marketplace"))
		return "", false
	}
	return name, true
}

// uuidParam parses a UUID path parameter and writes a 400 when it is malformed
func (h *BaseHandler) uuidParam(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		h.BadRequest(c, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds a JSON body when one is present. An empty body leaves
// req untouched.
func (h *BaseHandler) bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		h.BindingError(c, err)
		return false
	}
	return true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	code = dto.FromDomainCode(code)
	h.Error(c, dto.HTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// UnprocessableEntity sends a 422 unprocessable entity response
func (h *BaseHandler) UnprocessableEntity(c *gin.Context, code, message string) {
	h.Error(c, http.StatusUnprocessableEntity, code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// BindingError reports a failed ShouldBind. Tag failures become a validation
// response with per-field details; anything else, such as malformed JSON, is a
// plain bad request.
func (h *BaseHandler) BindingError(c *gin.Context, err error) {
	if details, ok := middleware.ValidationDetails(err); ok {
		h.ValidationError(c, details)
		return
	}
	h.BadRequest(c, err.Error())
}

// HandleError maps domain, marketplace, reliability and scheduler errors to
// HTTP responses. Anything unrecognised is logged and reported as a 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, domainErr.Code, domainErr.Message)
		return
	}

	if code, message, ok := classifyError(err); ok {
		h.ErrorWithCode(c, code, message)
		return
	}

	logger.GetGinLogger(c).Error("Unhandled request error", zap.Error(err))
	h.InternalError(c, "An unexpected error occurred")
}

// classifyError returns the response code for errors that are not domain
// errors
func classifyError(err error) (code, message string, ok bool) {
	switch {
	case errors.Is(err, marketplace.ErrInvalidMarketplace):
		return dto.ErrCodeBadRequest, "Unknown marketplace", true
	case errors.Is(err, marketplace.ErrMarketplaceNotConfigured), errors.Is(err, marketplace.ErrSettingsNotFound):
		return dto.ErrCodeMarketplaceNotConfigured, "Marketplace is not configured", true
	case errors.Is(err, marketplace.ErrMarketplaceNotEnabled):
		return dto.ErrCodeMarketplaceDisabled, "Marketplace connection is disabled", true
	case errors.Is(err, marketplace.ErrSyncLogNotFound):
		return dto.ErrCodeNotFound, "Sync log not found", true
	case errors.Is(err, marketplace.ErrInvalidRateLimitPolicy):
		return dto.ErrCodeValidation, err.Error(), true
	case errors.Is(err, marketplace.ErrAuthentication):
		return dto.ErrCodeMarketplaceAuth, "Marketplace rejected the credentials", true
	case errors.Is(err, marketplace.ErrUnsupportedOperation):
		return dto.ErrCodeUnsupportedOperation, "Operation not supported by this marketplace", true
	case errors.Is(err, marketplace.ErrRateLimited):
		return dto.ErrCodeMarketplaceUnavailable, "Marketplace rate limit exceeded", true
	case errors.Is(err, reliability.ErrCircuitOpen):
		return dto.ErrCodeMarketplaceUnavailable, "Marketplace temporarily unavailable", true
	case errors.Is(err, ratelimit.ErrLimiterClosed):
		return dto.ErrCodeMarketplaceUnavailable, "Marketplace limiter is shutting down", true
	case errors.Is(err, scheduler.ErrJobAlreadyQueued):
		return dto.ErrCodeJobAlreadyQueued, "An identical job is already queued", true
	case errors.Is(err, scheduler.ErrSchedulerNotRunning), errors.Is(err, scheduler.ErrJobQueueFull):
		return dto.ErrCodeSchedulerUnavailable, err.Error(), true
	case errors.Is(err, scheduler.ErrInvalidJobKind), errors.Is(err, scheduler.ErrMarketplaceRequired):
		return dto.ErrCodeBadRequest, err.Error(), true
	case errors.Is(err, context.DeadlineExceeded):
		return dto.ErrCodeMarketplaceUnavailable, "Marketplace did not answer in time", true
	}
	if me, ok := marketplace.AsMarketplaceError(err); ok {
		return dto.ErrCodeMarketplaceUnavailable, me.Error(), true
	}
	return "", "", false
}
