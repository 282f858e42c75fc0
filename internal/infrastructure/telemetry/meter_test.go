package telemetry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
)

// newManualMeterProvider returns an enabled provider whose metrics are read on demand
func newManualMeterProvider(t *testing.T) (*telemetry.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	original := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(original) })

	reader := sdkmetric.NewManualReader()
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:     true,
		ServiceName: "marketsync",
	}, zaptest.NewLogger(t), telemetry.WithMetricReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

// collect returns the named metric from the reader, failing when it is absent
func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Metrics{}
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := telemetry.MetricsConfig{
		Enabled:     false,
		ServiceName: "marketsync",
	}

	mp, err := telemetry.NewMeterProvider(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, mp.IsEnabled())
	assert.Nil(t, mp.Handler())
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.ForceFlush(ctx))
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestNewMeterProvider_ExporterNone(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:  true,
		Exporter: telemetry.ExporterNone,
	}, nil)
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
}

func TestNewMeterProvider_UnknownExporter(t *testing.T) {
	_, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
		Enabled:  true,
		Exporter: "statsd",
	}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd")
}

func TestNewMeterProvider_Prometheus(t *testing.T) {
	original := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(original) })

	ctx := context.Background()
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:     true,
		ServiceName: "marketsync",
		Exporter:    telemetry.ExporterPrometheus,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = mp.Shutdown(ctx) }()

	counter, err := telemetry.NewCounter(mp.Meter("test"), "marketsync_test_calls_total", "test calls", "{calls}")
	require.NoError(t, err)
	counter.Inc(ctx, telemetry.AttrMarketplace.String("amazon"))

	handler := mp.Handler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "marketsync_test_calls_total")
	assert.Contains(t, string(body), `marketplace="amazon"`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewMeterProvider_OTLP(t *testing.T) {
	if testing.Short() {
		t.Skip("requires an OTLP collector")
	}
	original := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(original) })

	ctx := context.Background()
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:4317",
		ExportInterval:    time.Second,
		ServiceName:       "marketsync",
		Insecure:          true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, mp.IsEnabled())
	_ = mp.Shutdown(ctx)
}

func TestCounter(t *testing.T) {
	mp, reader := newManualMeterProvider(t)
	ctx := context.Background()

	counter, err := telemetry.NewCounter(mp.Meter("test"), "marketsync_test_total", "test counter", "{calls}")
	require.NoError(t, err)

	counter.Inc(ctx, telemetry.AttrMarketplace.String("amazon"))
	counter.Add(ctx, 4, telemetry.AttrMarketplace.String("aliexpress"))

	assert.Equal(t, int64(5), sumValue(t, collect(t, reader, "marketsync_test_total")))
}

func TestHistogram(t *testing.T) {
	mp, reader := newManualMeterProvider(t)
	ctx := context.Background()

	histogram, err := telemetry.NewHistogram(mp.Meter("test"), telemetry.HistogramOpts{
		Name:        "marketsync_test_duration_seconds",
		Description: "test histogram",
		Unit:        "s",
		Boundaries:  telemetry.SyncDurationBuckets,
	})
	require.NoError(t, err)

	histogram.Record(ctx, 0.2)
	histogram.RecordDuration(ctx, 2*time.Minute)

	m := collect(t, reader, "marketsync_test_duration_seconds")
	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	dp := data.DataPoints[0]
	assert.Equal(t, uint64(2), dp.Count)
	assert.InDelta(t, 120.2, dp.Sum, 0.0001)
	assert.Equal(t, telemetry.SyncDurationBuckets, dp.Bounds)
}

func TestGauge(t *testing.T) {
	mp, reader := newManualMeterProvider(t)
	ctx := context.Background()

	gauge, err := telemetry.NewGauge(mp.Meter("test"), "marketsync_test_queued", "test gauge", "{calls}")
	require.NoError(t, err)

	gauge.Record(ctx, 10)
	gauge.Record(ctx, 3)

	m := collect(t, reader, "marketsync_test_queued")
	data, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(3), data.DataPoints[0].Value)
}

func TestAttributeKeys(t *testing.T) {
	assert.Equal(t, "marketplace", string(telemetry.AttrMarketplace))
	assert.Equal(t, "sync.operation", string(telemetry.AttrSyncOperation))
	assert.Equal(t, "sync.status", string(telemetry.AttrSyncStatus))
	assert.Equal(t, "breaker.key", string(telemetry.AttrBreakerKey))
	assert.Equal(t, "http.route", string(telemetry.AttrHTTPRoute))
}
