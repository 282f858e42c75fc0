package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/application/integration"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
)

// ConnectionManager reads and changes marketplace connection settings
type ConnectionManager interface {
	TestConnection(ctx context.Context, name marketplace.Name) (*integration.ConnectionTestResult, error)
	GetSettings(ctx context.Context, name marketplace.Name) (*marketplace.ConnectionSettings, error)
	ListActive(ctx context.Context) ([]marketplace.ConnectionSettings, error)
	UpdateSettings(ctx context.Context, name marketplace.Name, input integration.UpdateSettingsInput) (*marketplace.ConnectionSettings, error)
}

// ReliabilityMonitor exposes limiter and breaker state
type ReliabilityMonitor interface {
	ReloadLimits(ctx context.Context) error
	Status() integration.ReliabilityStatus
	ResetBreaker(key string) bool
}

// ConnectionHandler handles marketplace connection and reliability endpoints
type ConnectionHandler struct {
	BaseHandler
	connections ConnectionManager
	reliability ReliabilityMonitor
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(connections ConnectionManager, reliability ReliabilityMonitor) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, reliability: reliability}
}

// RateLimitPolicyRequest is the HTTP form of a rate limit policy
type RateLimitPolicyRequest struct {
	MaxConcurrent           int `json:"max_concurrent" binding:"min=0,max=100"`
	MinSpacingMs            int `json:"min_spacing_ms" binding:"min=0,max=60000"`
	Reservoir               int `json:"reservoir" binding:"min=0"`
	ReservoirRefreshSeconds int `json:"reservoir_refresh_seconds" binding:"min=0,max=86400"`
}

// UpdateConnectionRequest is the HTTP body of a settings change
type UpdateConnectionRequest struct {
	IsActive      *bool                   `json:"is_active"`
	CredentialRef *string                 `json:"credential_ref" binding:"omitempty,max=200"`
	RateLimit     *RateLimitPolicyRequest `json:"rate_limit"`
}

// ResetBreakerRequest is the HTTP body of a breaker reset
type ResetBreakerRequest struct {
	Key string `json:"key" binding:"required,max=200"`
}

// List returns the settings of every enabled marketplace.
// GET /connections
func (h *ConnectionHandler) List(c *gin.Context) {
	settings, err := h.connections.ListActive(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToConnectionSettingsResponses(settings))
}

// Get returns the settings of one marketplace.
// GET /connections/:marketplace
func (h *ConnectionHandler) Get(c *gin.Context) {
	name, ok := h.marketplaceParam(c)
	if !ok {
		return
	}
	settings, err := h.connections.GetSettings(c.Request.Context(), name)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, integration.ToConnectionSettingsResponse(settings))
}

// Update changes activation, credential reference or rate limit policy.
// PATCH /connections/:marketplace
func (h *ConnectionHandler) Update(c *gin.Context) {
	name, ok := h.marketplaceParam(c)
	if !ok {
		return
	}

	var req UpdateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	if req.IsActive == nil && req.CredentialRef == nil && req.RateLimit == nil {
		h.BadRequest(c, "Nothing to update")
		return
	}

	appReq := integration.UpdateConnectionRequest{
		IsActive:      req.IsActive,
		CredentialRef: req.CredentialRef,
	}
	if req.RateLimit != nil {
		appReq.RateLimit = &integration.RateLimitPolicyDTO{
			MaxConcurrent:           req.RateLimit.MaxConcurrent,
			MinSpacingMs:            req.RateLimit.MinSpacingMs,
			Reservoir:               req.RateLimit.Reservoir,
			ReservoirRefreshSeconds: req.RateLimit.ReservoirRefreshSeconds,
		}
	}

	settings, err := h.connections.UpdateSettings(c.Request.Context(), name, appReq.ToInput())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Connection settings updated",
		zap.String("operator", getOperator(c)),
		zap.String("marketplace", name.String()),
	)
	h.Success(c, integration.ToConnectionSettingsResponse(settings))
}

// Test authenticates against a marketplace and records the outcome.
// POST /connections/:marketplace/test
func (h *ConnectionHandler) Test(c *gin.Context) {
	name, ok := h.marketplaceParam(c)
	if !ok {
		return
	}
	result, err := h.connections.TestConnection(c.Request.Context(), name)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Status reports limiter queues and breaker states.
// GET /reliability/status
func (h *ConnectionHandler) Status(c *gin.Context) {
	h.Success(c, h.reliability.Status())
}

// ReloadLimits re-reads rate limit policies from the stored settings.
// POST /reliability/limits/reload
func (h *ConnectionHandler) ReloadLimits(c *gin.Context) {
	if err := h.reliability.ReloadLimits(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, h.reliability.Status())
}

// ResetBreaker closes one circuit breaker.
// POST /reliability/breakers/reset
func (h *ConnectionHandler) ResetBreaker(c *gin.Context) {
	var req ResetBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}
	if !h.reliability.ResetBreaker(req.Key) {
		h.NotFound(c, "Unknown breaker: "+req.Key)
		return
	}

	logger.GetGinLogger(c).Warn("Circuit breaker reset",
		zap.String("operator", getOperator(c)),
		zap.String("breaker", req.Key),
	)
	h.NoContent(c)
}
