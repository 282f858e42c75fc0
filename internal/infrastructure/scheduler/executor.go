package scheduler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// SyncRunFunc performs one sync run against a marketplace
type SyncRunFunc func(ctx context.Context, name marketplace.Name) (*marketplace.SyncResult, error)

// StatusPollFunc refreshes open linked orders and reports how many failed
type StatusPollFunc func(ctx context.Context) (checked int, errs []string, err error)

// Handlers binds job kinds to the work they perform. A nil handler makes
// jobs of that kind fail with ErrInvalidJobKind.
type Handlers struct {
	Import     SyncRunFunc
	DailySweep SyncRunFunc
	StatusPoll StatusPollFunc
}

// MarketplaceJobExecutor dispatches jobs to their handler. A sync run that
// ends in the failed state is an error so the scheduler retries it; item
// errors of a completed run are logged only.
type MarketplaceJobExecutor struct {
	handlers Handlers
	logger   *zap.Logger
}

// NewMarketplaceJobExecutor creates an executor over handlers
func NewMarketplaceJobExecutor(handlers Handlers, logger *zap.Logger) *MarketplaceJobExecutor {
	return &MarketplaceJobExecutor{handlers: handlers, logger: logger}
}

// Execute implements JobExecutor
func (e *MarketplaceJobExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Kind {
	case JobKindImport:
		return e.runSync(ctx, job, e.handlers.Import)
	case JobKindDailySweep:
		return e.runSync(ctx, job, e.handlers.DailySweep)
	case JobKindStatusPoll:
		if e.handlers.StatusPoll == nil {
			return ErrInvalidJobKind
		}
		checked, errs, err := e.handlers.StatusPoll(ctx)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			e.logger.Warn("Order status poll finished with errors",
				zap.String("job_id", job.ID.String()),
				zap.Int("checked", checked),
				zap.Strings("errors", errs),
			)
		}
		return nil
	default:
		return ErrInvalidJobKind
	}
}

func (e *MarketplaceJobExecutor) runSync(ctx context.Context, job *Job, run SyncRunFunc) error {
	if run == nil {
		return ErrInvalidJobKind
	}
	if !job.Marketplace.IsValid() {
		return ErrMarketplaceRequired
	}

	result, err := run(ctx, job.Marketplace)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if result.Status == marketplace.SyncStatusFailed {
		return fmt.Errorf("%w: %s", ErrRunFailed, strings.Join(result.Errors, "; "))
	}
	if len(result.Errors) > 0 {
		e.logger.Warn("Sync run completed with item errors",
			zap.String("job_id", job.ID.String()),
			zap.String("sync_log_id", result.SyncLogID.String()),
			zap.Int("errors", len(result.Errors)),
		)
	}
	return nil
}
