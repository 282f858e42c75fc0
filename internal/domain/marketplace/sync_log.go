package marketplace

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// SyncLog Types
// ---------------------------------------------------------------------------

// SyncStatus represents the lifecycle of a sync invocation
type SyncStatus string

const (
	// SyncStatusRunning is set when the log row is opened
	SyncStatusRunning SyncStatus = "running"
	// SyncStatusCompleted means the run finished, possibly with item errors
	SyncStatusCompleted SyncStatus = "completed"
	// SyncStatusFailed means the run itself could not complete
	SyncStatusFailed SyncStatus = "failed"
)

// IsValid returns true if the status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusRunning, SyncStatusCompleted, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// IsFinal returns true for completed and failed
func (s SyncStatus) IsFinal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// SyncOperation names the kind of work a SyncLog records
type SyncOperation string

const (
	SyncOperationImport         SyncOperation = "import_products"
	SyncOperationStockPrice     SyncOperation = "update_stock_price"
	SyncOperationDailySync      SyncOperation = "daily_sync"
	SyncOperationPushInventory  SyncOperation = "push_inventory"
	SyncOperationConnectionTest SyncOperation = "connection_test"
)

// SyncLog is the durable identity and audit record of one sync invocation
type SyncLog struct {
	// ID is the unique identifier of the run
	ID uuid.UUID
	// Marketplace is the marketplace the run talked to
	Marketplace Name
	// Operation is the type of sync performed
	Operation SyncOperation
	// Status is running until Finish or Fail is called
	Status SyncStatus
	// ProductsProcessed counts items the run attempted
	ProductsProcessed int
	// ProductsImported counts newly created local products
	ProductsImported int
	// ProductsUpdated counts existing local products that changed
	ProductsUpdated int
	// Errors holds item-level and run-level error messages
	Errors []string
	// StartedAt is when the run was opened
	StartedAt time.Time
	// CompletedAt is set once the run is finalized
	CompletedAt *time.Time
}

// NewSyncLog opens a running sync log
func NewSyncLog(name Name, operation SyncOperation) *SyncLog {
	return &SyncLog{
		ID:          uuid.New(),
		Marketplace: name,
		Operation:   operation,
		Status:      SyncStatusRunning,
		Errors:      []string{},
		StartedAt:   time.Now(),
	}
}

// AddError appends an error message to the log
func (l *SyncLog) AddError(msg string) {
	l.Errors = append(l.Errors, msg)
}

// Finish marks the run as completed with its final counts
func (l *SyncLog) Finish(processed, imported, updated int) error {
	if l.Status.IsFinal() {
		return ErrSyncLogAlreadyFinalized
	}
	l.ProductsProcessed = processed
	l.ProductsImported = imported
	l.ProductsUpdated = updated
	l.Status = SyncStatusCompleted
	now := time.Now()
	l.CompletedAt = &now
	return nil
}

// Fail marks the run as failed and records the reason
func (l *SyncLog) Fail(reason string) error {
	if l.Status.IsFinal() {
		return ErrSyncLogAlreadyFinalized
	}
	if reason != "" {
		l.AddError(reason)
	}
	l.Status = SyncStatusFailed
	now := time.Now()
	l.CompletedAt = &now
	return nil
}

// Result projects the log into the value returned to callers
func (l *SyncLog) Result() *SyncResult {
	errs := make([]string, len(l.Errors))
	copy(errs, l.Errors)
	return &SyncResult{
		SyncLogID:         l.ID,
		Marketplace:       l.Marketplace,
		Operation:         l.Operation,
		Status:            l.Status,
		ProductsProcessed: l.ProductsProcessed,
		ProductsImported:  l.ProductsImported,
		ProductsUpdated:   l.ProductsUpdated,
		Errors:            errs,
		StartedAt:         l.StartedAt,
		CompletedAt:       l.CompletedAt,
	}
}

// SyncResult is the outcome of a sync invocation
type SyncResult struct {
	SyncLogID         uuid.UUID
	Marketplace       Name
	Operation         SyncOperation
	Status            SyncStatus
	ProductsProcessed int
	ProductsImported  int
	ProductsUpdated   int
	Errors            []string
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// Success returns true when the run completed
func (r *SyncResult) Success() bool {
	return r.Status == SyncStatusCompleted
}

// ---------------------------------------------------------------------------
// SyncLogRepository Interface
// ---------------------------------------------------------------------------

// SyncLogFilter defines filter criteria for sync logs
type SyncLogFilter struct {
	Marketplace *Name
	Operation   *SyncOperation
	Status      *SyncStatus
	Page        int
	PageSize    int
	// SortBy and SortOrder are checked against a whitelist by the repository
	SortBy    string
	SortOrder string
}

// SyncLogRepository persists sync logs
type SyncLogRepository interface {
	// Create inserts a running log
	Create(ctx context.Context, log *SyncLog) error
	// Finalize writes the final state. It succeeds only once per log and
	// returns ErrSyncLogAlreadyFinalized afterwards.
	Finalize(ctx context.Context, log *SyncLog) error
	FindByID(ctx context.Context, id uuid.UUID) (*SyncLog, error)
	FindAll(ctx context.Context, filter SyncLogFilter) ([]SyncLog, int64, error)
}
