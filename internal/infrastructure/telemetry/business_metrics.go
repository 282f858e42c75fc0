// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/ratelimit"
	"github.com/storefront/marketsync/internal/infrastructure/reliability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MarketplaceMetrics tracks sync runs, fulfillment outcomes and the health of
// the reliability layer in front of every marketplace.
type MarketplaceMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	syncRunsTotal          *Counter
	productsImportedTotal  *Counter
	productsUpdatedTotal   *Counter
	syncItemErrorsTotal    *Counter
	fulfillmentGroupsTotal *Counter
	breakerTransitions     *Counter
	limiterPausesTotal     *Counter
	retriesTotal           *Counter

	syncDuration *Histogram

	// Gauge metrics (point-in-time values)
	limiterQueued    *Gauge
	limiterInFlight  *Gauge
	limiterReservoir *Gauge
	breakerState     *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// LimiterStatsSource exposes per-marketplace limiter state
type LimiterStatsSource interface {
	Stats() []ratelimit.Stats
}

// BreakerStatsSource exposes per-key circuit breaker state
type BreakerStatsSource interface {
	Snapshot() []reliability.BreakerSnapshot
}

// MarketplaceMetricsConfig holds configuration for marketplace metrics.
type MarketplaceMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewMarketplaceMetrics creates a new MarketplaceMetrics instance.
func NewMarketplaceMetrics(cfg MarketplaceMetricsConfig) (*MarketplaceMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mm := &MarketplaceMetrics{
		meter:    cfg.Meter,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	counters := []struct {
		target      **Counter
		name        string
		description string
		unit        string
	}{
		{&mm.syncRunsTotal, "marketsync_sync_runs_total", "Sync runs by marketplace, operation and final status", "{runs}"},
		{&mm.productsImportedTotal, "marketsync_products_imported_total", "Local products created from marketplace listings", "{products}"},
		{&mm.productsUpdatedTotal, "marketsync_products_updated_total", "Local products changed by marketplace sync", "{products}"},
		{&mm.syncItemErrorsTotal, "marketsync_sync_item_errors_total", "Items that failed inside a sync run", "{items}"},
		{&mm.fulfillmentGroupsTotal, "marketsync_fulfillment_groups_total", "Per-marketplace fulfillment groups by outcome", "{groups}"},
		{&mm.breakerTransitions, "marketsync_circuit_breaker_transitions_total", "Circuit breaker state changes", "{transitions}"},
		{&mm.limiterPausesTotal, "marketsync_rate_limiter_pauses_total", "Marketplace pauses caused by 429 responses", "{pauses}"},
		{&mm.retriesTotal, "marketsync_marketplace_retries_total", "Retried marketplace calls", "{retries}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.description, c.unit)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	var err error
	mm.syncDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "marketsync_sync_duration_seconds",
		Description: "Wall time of a sync run",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	gauges := []struct {
		target      **Gauge
		name        string
		description string
		unit        string
	}{
		{&mm.limiterQueued, "marketsync_rate_limiter_queued", "Calls waiting in a marketplace limiter", "{calls}"},
		{&mm.limiterInFlight, "marketsync_rate_limiter_in_flight", "Calls running under a marketplace limiter", "{calls}"},
		{&mm.limiterReservoir, "marketsync_rate_limiter_reservoir", "Remaining reservoir of a marketplace limiter", "{calls}"},
		{&mm.breakerState, "marketsync_circuit_breaker_state", "Breaker state: 0 closed, 1 open, 2 half-open", "{state}"},
	}
	for _, g := range gauges {
		gauge, err := NewGauge(cfg.Meter, g.name, g.description, g.unit)
		if err != nil {
			return nil, err
		}
		*g.target = gauge
	}

	return mm, nil
}

// =============================================================================
// Sync Metrics
// =============================================================================

// RecordSyncRun records a finalized sync run
func (mm *MarketplaceMetrics) RecordSyncRun(ctx context.Context, result *marketplace.SyncResult, duration time.Duration) {
	if result == nil {
		return
	}
	mp := AttrMarketplace.String(result.Marketplace.String())
	op := AttrSyncOperation.String(string(result.Operation))

	mm.syncRunsTotal.Inc(ctx, mp, op, AttrSyncStatus.String(string(result.Status)))
	mm.syncDuration.RecordDuration(ctx, duration, mp, op)
	if result.ProductsImported > 0 {
		mm.productsImportedTotal.Add(ctx, int64(result.ProductsImported), mp)
	}
	if result.ProductsUpdated > 0 {
		mm.productsUpdatedTotal.Add(ctx, int64(result.ProductsUpdated), mp)
	}
	if n := len(result.Errors); n > 0 {
		mm.syncItemErrorsTotal.Add(ctx, int64(n), mp, op)
	}
}

// =============================================================================
// Fulfillment Metrics
// =============================================================================

// RecordFulfillmentGroup records the outcome of one marketplace group of an order
func (mm *MarketplaceMetrics) RecordFulfillmentGroup(ctx context.Context, name marketplace.Name, success bool) {
	outcome := "failed"
	if success {
		outcome = "created"
	}
	mm.fulfillmentGroupsTotal.Inc(ctx,
		AttrMarketplace.String(name.String()),
		AttrOutcome.String(outcome),
	)
}

// =============================================================================
// Reliability Metrics
// =============================================================================

// RecordBreakerTransition matches reliability.StateChangeFunc
func (mm *MarketplaceMetrics) RecordBreakerTransition(key string, from, to reliability.State) {
	mm.breakerTransitions.Inc(context.Background(),
		AttrBreakerKey.String(key),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)
}

// RecordLimiterPause counts a 429 pause of a marketplace limiter
func (mm *MarketplaceMetrics) RecordLimiterPause(name marketplace.Name, _ time.Time) {
	mm.limiterPausesTotal.Inc(context.Background(), AttrMarketplace.String(name.String()))
}

// RecordRetry counts one retried call
func (mm *MarketplaceMetrics) RecordRetry(key string, _ int, _ error) {
	mm.retriesTotal.Inc(context.Background(), AttrBreakerKey.String(key))
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection samples limiter and breaker gauges every interval
// (default: 15 seconds). This is non-blocking - use Stop() to stop collection.
func (mm *MarketplaceMetrics) StartPeriodicCollection(ctx context.Context, limiters LimiterStatsSource, breakers BreakerStatsSource, interval time.Duration) {
	mm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 15 * time.Second
		}
		go mm.runPeriodicCollection(ctx, limiters, breakers, interval)
	})
}

func (mm *MarketplaceMetrics) runPeriodicCollection(ctx context.Context, limiters LimiterStatsSource, breakers BreakerStatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mm.collect(ctx, limiters, breakers)

	for {
		select {
		case <-mm.stopChan:
			mm.logger.Info("Stopping periodic marketplace metrics collection")
			return
		case <-ctx.Done():
			mm.logger.Info("Context cancelled, stopping periodic marketplace metrics collection")
			return
		case <-ticker.C:
			mm.collect(ctx, limiters, breakers)
		}
	}
}

func (mm *MarketplaceMetrics) collect(ctx context.Context, limiters LimiterStatsSource, breakers BreakerStatsSource) {
	if limiters != nil {
		for _, s := range limiters.Stats() {
			mp := AttrMarketplace.String(s.Marketplace)
			mm.limiterQueued.Record(ctx, int64(s.Queued), mp)
			mm.limiterInFlight.Record(ctx, int64(s.InFlight), mp)
			if s.ReservoirEnforced {
				mm.limiterReservoir.Record(ctx, int64(s.Reservoir), mp)
			}
		}
	}
	if breakers != nil {
		for _, b := range breakers.Snapshot() {
			mm.breakerState.Record(ctx, breakerStateValue(b.State), AttrBreakerKey.String(b.Key))
		}
	}
}

func breakerStateValue(state string) int64 {
	switch state {
	case reliability.StateOpen.String():
		return 1
	case reliability.StateHalfOpen.String():
		return 2
	default:
		return 0
	}
}

// Stop stops the periodic collection.
func (mm *MarketplaceMetrics) Stop() {
	mm.stopOnce.Do(func() {
		close(mm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewMarketplaceMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
