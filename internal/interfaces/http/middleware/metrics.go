package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
)

var attrStatusClass = attribute.Key("http.status_class")

var bodySizeBuckets = []float64{100, 500, 1_000, 5_000, 10_000, 50_000, 100_000, 500_000, 1_000_000}

type httpInstruments struct {
	requests     *telemetry.Counter
	duration     *telemetry.Histogram
	requestSize  *telemetry.Histogram
	responseSize *telemetry.Histogram
	inFlight     metric.Int64UpDownCounter
}

func newHTTPInstruments(meter metric.Meter) (*httpInstruments, error) {
	var (
		ins httpInstruments
		err error
	)
	if ins.requests, err = telemetry.NewCounter(meter, "http_server_request_total", "Requests served", "{request}"); err != nil {
		return nil, err
	}
	if ins.duration, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "Request latency",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.requestSize, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_size_bytes",
		Description: "Request body size",
		Unit:        "By",
		Boundaries:  bodySizeBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.responseSize, err = telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Description: "Response body size",
		Unit:        "By",
		Boundaries:  bodySizeBuckets,
	}); err != nil {
		return nil, err
	}
	if ins.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Requests in flight"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	return &ins, nil
}

// HTTPMetrics records request metrics through mp. It passes requests
// through untouched when metrics are disabled or the instruments cannot be
// created.
func HTTPMetrics(mp *telemetry.MeterProvider, log *zap.Logger) gin.HandlerFunc {
	if mp == nil || !mp.IsEnabled() {
		return passThrough
	}
	mw, err := HTTPMetricsWithMeter(mp.Meter("http.server"))
	if err != nil {
		if log != nil {
			log.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return passThrough
	}
	return mw
}

// HTTPMetricsWithMeter records, per request:
//   - http_server_request_total by method, route, status code and marketplace
//   - http_server_request_duration_seconds by method, route and status class
//   - request and response body sizes by method and route
//   - http_server_active_requests
func HTTPMetricsWithMeter(meter metric.Meter) (gin.HandlerFunc, error) {
	ins, err := newHTTPInstruments(meter)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		ins.inFlight.Add(ctx, 1)
		c.Next()
		ins.inFlight.Add(ctx, -1)

		status := c.Writer.Status()
		route := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(getRoutePattern(c)),
		}

		counted := append([]attribute.KeyValue{telemetry.AttrHTTPStatusCode.Int(status)}, route...)
		if name, ok := routeMarketplace(c); ok {
			counted = append(counted, telemetry.AttrMarketplace.String(name.String()))
		}
		ins.requests.Inc(ctx, counted...)
		ins.duration.RecordDuration(ctx, time.Since(start), append(route, attrStatusClass.String(statusClass(status)))...)

		if n := c.Request.ContentLength; n > 0 {
			ins.requestSize.Record(ctx, float64(n), route...)
		}
		if n := c.Writer.Size(); n > 0 {
			ins.responseSize.Record(ctx, float64(n), route...)
		}
	}, nil
}

func passThrough(c *gin.Context) { c.Next() }

// getRoutePattern keeps label cardinality bounded by using the matched
// pattern, e.g. /api/v1/connections/:marketplace
func getRoutePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
