package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobAlreadyQueued is returned when the same work is already queued or running
	ErrJobAlreadyQueued = errors.New("job already queued")

	// ErrInvalidJobKind is returned for unknown job kinds
	ErrInvalidJobKind = errors.New("invalid job kind")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrMarketplaceRequired is returned when a per-marketplace job has no marketplace
	ErrMarketplaceRequired = errors.New("job requires a marketplace")

	// ErrRunFailed is returned when a sync run finished in the failed state
	ErrRunFailed = errors.New("sync run failed")
)

// JobPanicError wraps a value recovered from a panicking executor
type JobPanicError struct {
	Value any
}

func (e *JobPanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}
