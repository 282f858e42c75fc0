// Package middleware provides HTTP middleware for the marketsync admin API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
)

// MaxRequestIDLength caps header-supplied request IDs written to spans.
const MaxRequestIDLength = 128

// MarketplaceParam is the route parameter naming the target marketplace
const MarketplaceParam = "marketplace"

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns otelgin followed by a span decorator; register both with
// engine.Use(middleware.Tracing(cfg)...).
//
// Once the rest of the chain has run, the decorator adds:
//   - request_id: from the request ID middleware or X-Request-ID header
//   - operator: from JWT claims, when the route is authenticated
//   - marketplace: from the :marketplace route parameter when it names a known marketplace
//
// and marks the span as an error for 4xx responses; otelgin does so for 5xx. Span names follow
// "METHOD route_pattern" (e.g. "POST /api/v1/sync/:marketplace/import").
func Tracing(cfg TracingConfig) gin.HandlersChain {
	if !cfg.Enabled {
		return gin.HandlersChain{passThrough}
	}
	return gin.HandlersChain{otelgin.Middleware(cfg.ServiceName), decorateSpan}
}

// decorateSpan runs inside otelgin, so the server span is still open when
// the handlers below it return.
func decorateSpan(c *gin.Context) {
	c.Next()

	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		return
	}
	if requestID := getRequestID(c); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}
	if operator := GetJWTOperator(c); operator != "" {
		span.SetAttributes(attribute.String("operator", operator))
	}
	if name, ok := routeMarketplace(c); ok {
		span.SetAttributes(attribute.String("marketplace", name.String()))
	}

	// otelgin marks 5xx itself once this returns and would overwrite the
	// description, so only client errors are described here
	status := c.Writer.Status()
	if status >= http.StatusBadRequest {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
		span.SetStatus(codes.Error, clientErrorDescription(status))
	}
}

func clientErrorDescription(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "Unauthorized"
	case status == http.StatusForbidden:
		return "Forbidden"
	case status == http.StatusNotFound:
		return "Not Found"
	case status == http.StatusConflict:
		return "Conflict"
	case status == http.StatusTooManyRequests:
		return "Rate Limited"
	default:
		return "Client Error"
	}
}

// getRequestID prefers the ID stored by logger.RequestID; raw header values
// are truncated.
func getRequestID(c *gin.Context) string {
	if id := c.GetString(string(logger.RequestIDKey)); id != "" {
		return id
	}

	headerID := c.GetHeader(logger.RequestIDHeader)
	if len(headerID) > MaxRequestIDLength {
		return headerID[:MaxRequestIDLength]
	}
	return headerID
}

// routeMarketplace parses the :marketplace route parameter. Unknown names are
// dropped so arbitrary path input never lands in trace or metric labels.
func routeMarketplace(c *gin.Context) (marketplace.Name, bool) {
	raw := c.Param(MarketplaceParam)
	if raw == "" {
		return "", false
	}
	name, err := marketplace.ParseName(raw)
	if err != nil {
		return "", false
	}
	return name, true
}
