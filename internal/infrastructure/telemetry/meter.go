package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// Metric exporters selectable through MetricsConfig.Exporter
const (
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

// MetricsConfig selects where metrics go
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	// ExportInterval applies to the OTLP push exporter, default 60s
	ExportInterval time.Duration
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Exporter is ExporterOTLP (push), ExporterPrometheus (scraped through
	// Handler) or ExporterNone. Empty means ExporterOTLP.
	Exporter string
}

// MeterProvider owns the SDK meter provider and, for the Prometheus
// exporter, the registry it is scraped from
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	logger   *zap.Logger
	config   MetricsConfig
}

// MeterOption customizes NewMeterProvider
type MeterOption func(*meterOptions)

type meterOptions struct {
	reader sdkmetric.Reader
}

// WithMetricReader bypasses the configured exporter. Tests pass an
// sdkmetric.ManualReader.
func WithMetricReader(reader sdkmetric.Reader) MeterOption {
	return func(o *meterOptions) { o.reader = reader }
}

// NewMeterProvider builds the provider and installs it globally. With metrics
// disabled, Meter hands out the global no-op meter.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger, opts ...MeterOption) (*MeterProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exporter == "" {
		cfg.Exporter = ExporterOTLP
	}
	mp := &MeterProvider{logger: logger, config: cfg}
	if !cfg.Enabled || cfg.Exporter == ExporterNone {
		logger.Info("Metrics disabled")
		return mp, nil
	}

	var o meterOptions
	for _, opt := range opts {
		opt(&o)
	}

	reader := o.reader
	if reader == nil {
		var err error
		if reader, err = mp.newReader(ctx); err != nil {
			return nil, err
		}
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	mp.provider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp.provider)

	logger.Info("Metrics enabled",
		zap.String("exporter", cfg.Exporter),
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
	)
	return mp, nil
}

func (mp *MeterProvider) newReader(ctx context.Context) (sdkmetric.Reader, error) {
	switch mp.config.Exporter {
	case ExporterPrometheus:
		mp.registry = prometheus.NewRegistry()
		mp.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := otelprom.New(otelprom.WithRegisterer(mp.registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return exporter, nil
	case ExporterOTLP:
		interval := mp.config.ExportInterval
		if interval <= 0 {
			interval = time.Minute
		}
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(mp.config.CollectorEndpoint)}
		if mp.config.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", mp.config.Exporter)
	}
}

// Handler serves /metrics for the Prometheus exporter and is nil otherwise
func (mp *MeterProvider) Handler() http.Handler {
	if mp.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{})
}

// Meter returns a named meter
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

func (mp *MeterProvider) IsEnabled() bool {
	return mp.provider != nil
}

// ForceFlush exports pending metrics
func (mp *MeterProvider) ForceFlush(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := mp.provider.Shutdown(ctx); err != nil {
		mp.logger.Error("Metrics shutdown failed", zap.Error(err))
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	mp.logger.Info("Metrics flushed")
	return nil
}
