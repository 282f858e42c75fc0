package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// ActiveMarketplaces lists the marketplaces whose connection is enabled
type ActiveMarketplaces interface {
	FindActive(ctx context.Context) ([]marketplace.ConnectionSettings, error)
}

// JobSubmitter accepts new jobs
type JobSubmitter interface {
	Submit(kind JobKind, name marketplace.Name) (*Job, error)
}

// IntervalTriggerConfig holds configuration for the interval trigger
type IntervalTriggerConfig struct {
	// CheckInterval is how often due work is looked for
	CheckInterval time.Duration
	// ImportInterval spaces imports of one marketplace; zero disables them
	ImportInterval time.Duration
	// SweepInterval spaces daily sweeps of one marketplace; zero disables them
	SweepInterval time.Duration
	// StatusPollInterval spaces order status polls; zero disables them
	StatusPollInterval time.Duration
}

// DefaultIntervalTriggerConfig returns default configuration
func DefaultIntervalTriggerConfig() IntervalTriggerConfig {
	return IntervalTriggerConfig{
		CheckInterval:      time.Minute,
		ImportInterval:     6 * time.Hour,
		SweepInterval:      24 * time.Hour,
		StatusPollInterval: 15 * time.Minute,
	}
}

// IntervalTrigger enqueues imports and daily sweeps for every active
// marketplace, and order status polls, each on its own interval
type IntervalTrigger struct {
	config    IntervalTriggerConfig
	submitter JobSubmitter
	active    ActiveMarketplaces
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// last enqueue time per job key
	lastScheduledMu sync.RWMutex
	lastScheduled   map[string]time.Time
}

// NewIntervalTrigger creates a new interval trigger
func NewIntervalTrigger(
	config IntervalTriggerConfig,
	submitter JobSubmitter,
	active ActiveMarketplaces,
	logger *zap.Logger,
) *IntervalTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	return &IntervalTrigger{
		config:        config,
		submitter:     submitter,
		active:        active,
		logger:        logger,
		now:           time.Now,
		lastScheduled: make(map[string]time.Time),
	}
}

// Start starts the trigger loop
func (c *IntervalTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Interval trigger started",
		zap.Duration("check_interval", c.config.CheckInterval),
		zap.Duration("import_interval", c.config.ImportInterval),
		zap.Duration("sweep_interval", c.config.SweepInterval),
		zap.Duration("status_poll_interval", c.config.StatusPollInterval),
	)
	return nil
}

// Stop stops the trigger loop
func (c *IntervalTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *IntervalTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	c.CheckAndSchedule(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAndSchedule(ctx)
		}
	}
}

// CheckAndSchedule enqueues every job whose interval has elapsed and returns
// how many were submitted
func (c *IntervalTrigger) CheckAndSchedule(ctx context.Context) int {
	now := c.now()
	submitted := 0

	if c.config.StatusPollInterval > 0 && c.trySubmit(JobKindStatusPoll, "", c.config.StatusPollInterval, now) {
		submitted++
	}
	if c.config.ImportInterval <= 0 && c.config.SweepInterval <= 0 {
		return submitted
	}

	settings, err := c.active.FindActive(ctx)
	if err != nil {
		c.logger.Error("Failed to list active marketplaces", zap.Error(err))
		return submitted
	}

	for _, s := range settings {
		if !s.IsActive || !s.Marketplace.IsValid() {
			continue
		}
		if c.config.ImportInterval > 0 && c.trySubmit(JobKindImport, s.Marketplace, c.config.ImportInterval, now) {
			submitted++
		}
		if c.config.SweepInterval > 0 && c.trySubmit(JobKindDailySweep, s.Marketplace, c.config.SweepInterval, now) {
			submitted++
		}
	}
	return submitted
}

// trySubmit submits kind for name when interval has passed since the last
// enqueue. Work still queued from an earlier tick counts as scheduled.
func (c *IntervalTrigger) trySubmit(kind JobKind, name marketplace.Name, interval time.Duration, now time.Time) bool {
	key := (&Job{Kind: kind, Marketplace: name}).Key()

	c.lastScheduledMu.RLock()
	last, exists := c.lastScheduled[key]
	c.lastScheduledMu.RUnlock()
	if exists && now.Sub(last) < interval {
		return false
	}

	job, err := c.submitter.Submit(kind, name)
	switch {
	case errors.Is(err, ErrJobAlreadyQueued):
		c.logger.Debug("Job still pending, skipping", zap.String("job_key", key))
		return false
	case err != nil:
		c.logger.Error("Failed to schedule job", zap.String("job_key", key), zap.Error(err))
		return false
	}

	c.lastScheduledMu.Lock()
	c.lastScheduled[key] = now
	c.lastScheduledMu.Unlock()

	c.logger.Info("Job scheduled",
		zap.String("job_id", job.ID.String()),
		zap.String("job_key", key),
	)
	return true
}

// TriggerNow submits kind for name immediately and restarts its interval
func (c *IntervalTrigger) TriggerNow(kind JobKind, name marketplace.Name) (*Job, error) {
	job, err := c.submitter.Submit(kind, name)
	if err != nil {
		return nil, err
	}
	c.lastScheduledMu.Lock()
	c.lastScheduled[job.Key()] = c.now()
	c.lastScheduledMu.Unlock()

	c.logger.Info("Manual job triggered",
		zap.String("job_id", job.ID.String()),
		zap.String("job_key", job.Key()),
	)
	return job, nil
}

// LastScheduled returns the last enqueue time per job key
func (c *IntervalTrigger) LastScheduled() map[string]time.Time {
	c.lastScheduledMu.RLock()
	defer c.lastScheduledMu.RUnlock()

	out := make(map[string]time.Time, len(c.lastScheduled))
	for key, t := range c.lastScheduled {
		out[key] = t
	}
	return out
}
