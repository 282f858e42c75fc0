package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
)

// setupTestTracer sets up a test tracer provider and returns the span recorder.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
	})

	return sr
}

var testTracingConfig = TracingConfig{ServiceName: "marketsync", Enabled: true}

func findSpan(t *testing.T, sr *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range sr.Ended() {
		if span.Name() == name {
			return span
		}
	}
	require.Failf(t, "span not found", "no ended span named %q", name)
	return nil
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, attr := range span.Attributes() {
		if attr.Key == attribute.Key(key) {
			return attr.Value.Emit(), true
		}
	}
	return "", false
}

func TestTracing_Disabled(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing(TracingConfig{Enabled: false, ServiceName: "test-service"})...)
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sr.Ended())
}

func TestTracing_Enabled(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing(testTracingConfig)...)
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	span := findSpan(t, sr, "GET /test")
	assert.NotEqual(t, codes.Error, span.Status().Code)
}

func TestTracing_RequestIDAndMarketplace(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(logger.RequestID())
	router.Use(Tracing(testTracingConfig)...)
	router.POST("/sync/:marketplace/import", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/sync/amazon/import", nil)
	req.Header.Set("X-Request-ID", "0b8e7c2a-4f6d-4a51-9a8e-3d2f1c0b9a77")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	span := findSpan(t, sr, "POST /sync/:marketplace/import")
	id, ok := spanAttr(span, "request_id")
	assert.True(t, ok)
	assert.Equal(t, "0b8e7c2a-4f6d-4a51-9a8e-3d2f1c0b9a77", id)
	name, ok := spanAttr(span, "marketplace")
	assert.True(t, ok)
	assert.Equal(t, "amazon", name)
}

func TestTracing_UnknownMarketplaceDropped(t *testing.T) {
	sr := setupTestTracer(t)

	router := gin.New()
	router.Use(Tracing(testTracingConfig)...)
	router.GET("/connections/:marketplace", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/connections/ebay", nil))

	_, ok := spanAttr(findSpan(t, sr, "GET /connections/:marketplace"), "marketplace")
	assert.False(t, ok)
}

func TestTracing_OperatorFromLaterJWT(t *testing.T) {
	sr := setupTestTracer(t)
	svc := newTestTokenService()
	issued := issueToken(t, svc, "ops@storefront", auth.ScopeSyncRead)

	router := gin.New()
	router.Use(Tracing(testTracingConfig)...)
	router.Use(JWTAuthMiddleware(svc))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	serveWithToken(router, http.MethodGet, "/test", issued.Token)

	operator, ok := spanAttr(findSpan(t, sr, "GET /test"), "operator")
	assert.True(t, ok)
	assert.Equal(t, "ops@storefront", operator)
}

func TestTracing_ErrorStatus(t *testing.T) {
	tests := []struct {
		status  int
		message string
	}{
		{http.StatusBadRequest, "Client Error"},
		{http.StatusUnauthorized, "Unauthorized"},
		{http.StatusForbidden, "Forbidden"},
		{http.StatusNotFound, "Not Found"},
		{http.StatusConflict, "Conflict"},
		{http.StatusTooManyRequests, "Rate Limited"},
		{http.StatusInternalServerError, ""},
		{http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			sr := setupTestTracer(t)

			router := gin.New()
			router.Use(Tracing(testTracingConfig)...)
			router.GET("/test", func(c *gin.Context) {
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

			span := findSpan(t, sr, "GET /test")
			assert.Equal(t, codes.Error, span.Status().Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, span.Status().Description)
			}
			status, ok := spanAttr(span, "http.status_code")
			require.True(t, ok)
			assert.Equal(t, strconv.Itoa(tt.status), status)
		})
	}
}

func TestGetRequestID_LongHeaderTruncated(t *testing.T) {
	long := make([]byte, MaxRequestIDLength+50)
	for i := range long {
		long[i] = 'a'
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Request-ID", string(long))

	assert.Len(t, getRequestID(c), MaxRequestIDLength)
}
