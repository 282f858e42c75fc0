package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/domain/shared"
	"github.com/storefront/marketsync/internal/domain/trade"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"github.com/storefront/marketsync/internal/infrastructure/scheduler"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
	"github.com/storefront/marketsync/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name    string
		context string
		header  string
		want    string
	}{
		{"from context", "ctx-request-id", "", "ctx-request-id"},
		{"from header", "", "header-request-id", "header-request-id"},
		{"context wins", "ctx-id", "header-id", "ctx-id"},
		{"absent", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/sync/status", nil)
			if tt.context != "" {
				c.Set(string(logger.RequestIDKey), tt.context)
			}
			if tt.header != "" {
				c.Request.Header.Set(logger.RequestIDHeader, tt.header)
			}
			assert.Equal(t, tt.want, getRequestID(c))
		})
	}
}

// respond runs fn against a fresh context carrying request ID req-1
func respond(t *testing.T, fn func(h *BaseHandler, c *gin.Context)) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	router := gin.New()
	router.Any("/check", func(c *gin.Context) {
		c.Set(string(logger.RequestIDKey), "req-1")
		fn(&BaseHandler{}, c)
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/check", nil))

	var resp dto.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestBaseHandler_SuccessResponses(t *testing.T) {
	w, resp := respond(t, func(h *BaseHandler, c *gin.Context) { h.Success(c, gin.H{"checked": 3}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = respond(t, func(h *BaseHandler, c *gin.Context) { h.SuccessWithMeta(c, []string{"a", "b"}, 42, 2, 20) })
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(42), resp.Meta.Total)

	w, resp = respond(t, func(h *BaseHandler, c *gin.Context) { h.Created(c, gin.H{"id": "123"}) })
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)

	w, _ = respond(t, func(h *BaseHandler, c *gin.Context) { h.NoContent(c) })
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestBaseHandler_ErrorResponses(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(h *BaseHandler, c *gin.Context)
		wantCode int
		wantErr  string
	}{
		{"bad request", func(h *BaseHandler, c *gin.Context) { h.BadRequest(c, "Invalid request") }, http.StatusBadRequest, dto.ErrCodeBadRequest},
		{"not found", func(h *BaseHandler, c *gin.Context) { h.NotFound(c, "Unknown breaker") }, http.StatusNotFound, dto.ErrCodeNotFound},
		{"internal", func(h *BaseHandler, c *gin.Context) { h.InternalError(c, "boom") }, http.StatusInternalServerError, dto.ErrCodeInternal},
		{"unprocessable", func(h *BaseHandler, c *gin.Context) { h.UnprocessableEntity(c, dto.ErrCodeBusinessRule, "nothing to place") }, http.StatusUnprocessableEntity, dto.ErrCodeBusinessRule},
		{"legacy code normalised", func(h *BaseHandler, c *gin.Context) { h.ErrorWithCode(c, "STALE_UPDATE", "older snapshot") }, http.StatusConflict, dto.ErrCodeStaleUpdate},
		{"nil error writes nothing", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, nil) }, http.StatusOK, ""},
		{"plain error is internal", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, assert.AnError) }, http.StatusInternalServerError, dto.ErrCodeInternal},
		{"domain not found", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrNotFound) }, http.StatusNotFound, dto.ErrCodeNotFound},
		{"wrapped domain error", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, fmt.Errorf("load: %w", trade.ErrOrderNotFound)) }, http.StatusNotFound, dto.ErrCodeNotFound},
		{"already exists", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrAlreadyExists) }, http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"invalid input", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrInvalidInput) }, http.StatusBadRequest, dto.ErrCodeInvalidInput},
		{"unauthorized", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrUnauthorized) }, http.StatusUnauthorized, dto.ErrCodeUnauthorized},
		{"forbidden", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrForbidden) }, http.StatusForbidden, dto.ErrCodeForbidden},
		{"invalid state", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrInvalidState) }, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"version conflict", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, shared.ErrConcurrencyConflict) }, http.StatusConflict, dto.ErrCodeConcurrencyConflict},
		{"no marketplace linkage", func(h *BaseHandler, c *gin.Context) { h.HandleError(c, trade.ErrNoMarketplaceLinkage) }, http.StatusUnprocessableEntity, dto.ErrCodeNoMarketplaceLinkage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := respond(t, tt.fn)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantErr == "" {
				assert.Zero(t, w.Body.Len())
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
			assert.Equal(t, "req-1", resp.Error.RequestID)
		})
	}
}

func TestBaseHandler_ValidationError(t *testing.T) {
	w, resp := respond(t, func(h *BaseHandler, c *gin.Context) {
		h.ValidationError(c, []dto.ValidationDetail{
			{Field: "marketplace", Message: "This field is required"},
			{Field: "max_products", Message: "Must be at most 500"},
		})
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	assert.Len(t, resp.Error.Details, 2)
}

func TestBaseHandler_BindingError(t *testing.T) {
	middleware.SetupValidator()

	type body struct {
		Job string `json:"job" binding:"required,oneof=import daily_sweep status_poll"`
	}
	bind := func(payload string) (*httptest.ResponseRecorder, dto.Response) {
		router := gin.New()
		h := &BaseHandler{}
		router.POST("/api/v1/jobs/trigger", func(c *gin.Context) {
			var req body
			if err := c.ShouldBindJSON(&req); err != nil {
				h.BindingError(c, err)
				return
			}
			h.Success(c, req)
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/trigger", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return w, resp
	}

	t.Run("tag failure carries field details", func(t *testing.T) {
		w, resp := bind(`{"job":"reindex"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "job", resp.Error.Details[0].Field)
	})

	t.Run("malformed json", func(t *testing.T) {
		w, resp := bind(`{"job":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	})

	t.Run("valid", func(t *testing.T) {
		w, _ := bind(`{"job":"daily_sweep"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestBaseHandlerHandleError_Classified(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedErr  string
	}{
		{"not configured", marketplace.ErrMarketplaceNotConfigured, http.StatusNotFound, dto.ErrCodeMarketplaceNotConfigured},
		{"settings missing", fmt.Errorf("load: %w", marketplace.ErrSettingsNotFound), http.StatusNotFound, dto.ErrCodeMarketplaceNotConfigured},
		{"disabled", marketplace.ErrMarketplaceNotEnabled, http.StatusUnprocessableEntity, dto.ErrCodeMarketplaceDisabled},
		{"sync log missing", marketplace.ErrSyncLogNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"auth failure", marketplace.NewAuthenticationError(marketplace.Amazon, "bad secret", nil), http.StatusBadGateway, dto.ErrCodeMarketplaceAuth},
		{"unsupported", marketplace.NewUnsupportedError(marketplace.AliExpress, "get_order_status"), http.StatusNotImplemented, dto.ErrCodeUnsupportedOperation},
		{"remote rate limit", marketplace.NewRateLimitError(marketplace.Amazon, "get_product", 0), http.StatusServiceUnavailable, dto.ErrCodeMarketplaceUnavailable},
		{"generic remote failure", marketplace.NewHTTPError(marketplace.MercadoLivre, "create_order", 500, "boom"), http.StatusServiceUnavailable, dto.ErrCodeMarketplaceUnavailable},
		{"breaker open", fmt.Errorf("amazon: %w", reliability.ErrCircuitOpen), http.StatusServiceUnavailable, dto.ErrCodeMarketplaceUnavailable},
		{"job queued", scheduler.ErrJobAlreadyQueued, http.StatusConflict, dto.ErrCodeJobAlreadyQueued},
		{"scheduler stopped", scheduler.ErrSchedulerNotRunning, http.StatusServiceUnavailable, dto.ErrCodeSchedulerUnavailable},
		{"unknown marketplace", marketplace.ErrInvalidMarketplace, http.StatusBadRequest, dto.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("GET", "/", nil)

			h.HandleError(c, tt.err)

			assert.Equal(t, tt.expectedCode, w.Code)
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedErr, resp.Error.Code)
		})
	}
}

func TestBaseHandlerParams(t *testing.T) {
	h := &BaseHandler{}

	t.Run("marketplace alias", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "marketplace", Value: "Mercado_Livre"}}

		name, ok := h.marketplaceParam(c)
		assert.True(t, ok)
		assert.Equal(t, marketplace.MercadoLivre, name)
	})

	t.Run("unknown marketplace", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/", nil)
		c.Params = gin.Params{{Key: "marketplace", Value: "shopee"}}

		_, ok := h.marketplaceParam(c)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("uuid", func(t *testing.T) {
		id := uuid.New()
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: id.String()}}

		got, ok := h.uuidParam(c, "id")
		assert.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("malformed uuid", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("GET", "/", nil)
		c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

		_, ok := h.uuidParam(c, "id")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
