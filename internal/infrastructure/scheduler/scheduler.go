package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/domain/marketplace"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobKind identifies the background work a job performs
type JobKind string

const (
	// JobKindImport pulls listings from one marketplace into the catalog
	JobKindImport JobKind = "import"
	// JobKindDailySweep refreshes price and stock of every sourced product of one marketplace
	JobKindDailySweep JobKind = "daily_sweep"
	// JobKindStatusPoll refreshes the remote status of open linked orders
	JobKindStatusPoll JobKind = "status_poll"
)

// IsValid returns true for known job kinds
func (k JobKind) IsValid() bool {
	switch k {
	case JobKindImport, JobKindDailySweep, JobKindStatusPoll:
		return true
	}
	return false
}

// Job represents one scheduled unit of marketplace work
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	Marketplace marketplace.Name // empty for jobs spanning all marketplaces
	Status      JobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewJob creates a new pending job
func NewJob(kind JobKind, name marketplace.Name, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Marketplace: name,
		Status:      JobStatusPending,
		SubmittedAt: time.Now(),
		MaxRetries:  maxRetries,
	}
}

// Key identifies the work of the job regardless of its attempt
func (j *Job) Key() string {
	if j.Marketplace == "" {
		return string(j.Kind)
	}
	return string(j.Kind) + ":" + j.Marketplace.String()
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry with exponential backoff and
// returns the delay until the next attempt
func (j *Job) ScheduleRetry(baseDelay, maxDelay time.Duration) time.Duration {
	j.RetryCount++
	j.Status = JobStatusPending
	// baseDelay * 2^(retryCount-1)
	delay := baseDelay * time.Duration(1<<(j.RetryCount-1))
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}
	nextRetry := time.Now().Add(delay)
	j.NextRetryAt = &nextRetry
	return delay
}

// JobExecutor is the interface for executing jobs
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	// RetryDelay is the base delay between retries, doubled per attempt
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	QueueSize     int
	HistorySize   int
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: 3,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Minute,
		MaxRetryDelay:     30 * time.Minute,
		QueueSize:         100,
		HistorySize:       100,
	}
}

// Validate validates the configuration
func (c *SchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.JobTimeout <= 0 || c.RetryAttempts < 0 {
		return ErrInvalidConfig
	}
	if c.RetryAttempts > 0 && c.RetryDelay <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetryDelay > 0 && c.MaxRetryDelay < c.RetryDelay {
		return ErrInvalidConfig
	}
	return nil
}

// Scheduler runs marketplace jobs on a fixed worker pool. A job whose work is
// already queued or running is rejected with ErrJobAlreadyQueued, so a slow
// import never piles up behind itself.
type Scheduler struct {
	config   SchedulerConfig
	executor JobExecutor
	logger   *zap.Logger

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[string]uuid.UUID
	retries   map[uuid.UUID]*time.Timer

	// Job history for monitoring (in-memory, limited size)
	historyMu sync.RWMutex
	history   []Job
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config SchedulerConfig, executor JobExecutor, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	return &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
		active:   make(map[string]uuid.UUID),
		retries:  make(map[uuid.UUID]*time.Timer),
		history:  make([]Job, 0, config.HistorySize),
	}, nil
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Job scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs, drops pending retries and waits for the workers
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for id, timer := range s.retries {
		timer.Stop()
		delete(s.retries, id)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Job scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Job scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the worker pool is started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Submit queues a new job of kind for name
func (s *Scheduler) Submit(kind JobKind, name marketplace.Name) (*Job, error) {
	if !kind.IsValid() {
		return nil, ErrInvalidJobKind
	}
	if kind != JobKindStatusPoll && !name.IsValid() {
		return nil, ErrMarketplaceRequired
	}
	job := NewJob(kind, name, s.config.RetryAttempts)
	if err := s.SubmitJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitJob submits a job for execution
func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if _, busy := s.active[job.Key()]; busy {
		return ErrJobAlreadyQueued
	}

	select {
	case s.jobs <- job:
		s.active[job.Key()] = job.ID
		s.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("job_kind", string(job.Kind)),
			zap.String("marketplace", job.Marketplace.String()),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// worker processes jobs from the queue
func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker stopping", zap.Int("worker_id", workerID))
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single attempt of job
func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	job.Start()
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("job_kind", string(job.Kind)),
		zap.String("marketplace", job.Marketplace.String()),
		zap.Int("attempt", job.RetryCount+1),
	)
	log.Info("Processing job")

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.execute(jobCtx, job)
	cancel()

	if err == nil {
		job.Complete()
		log.Info("Job completed")
		s.finish(job)
		return
	}

	job.Fail(err.Error())
	log.Error("Job failed", zap.Error(err))

	if ctx.Err() == nil && job.ShouldRetry() {
		delay := job.ScheduleRetry(s.config.RetryDelay, s.config.MaxRetryDelay)
		log.Info("Job scheduled for retry",
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("delay", delay),
		)
		s.addToHistory(job)
		s.retryAfter(job, delay)
		return
	}
	s.finish(job)
}

// execute runs the executor, turning a panic into a job failure
func (s *Scheduler) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JobPanicError{Value: r}
		}
	}()
	return s.executor.Execute(ctx, job)
}

// retryAfter requeues job once delay has passed. The job keeps its key
// reserved while it waits.
func (s *Scheduler) retryAfter(job *Job, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		delete(s.active, job.Key())
		return
	}
	s.retries[job.ID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.retries, job.ID)
		if !s.isRunning {
			delete(s.active, job.Key())
			return
		}
		select {
		case s.jobs <- job:
		default:
			delete(s.active, job.Key())
			s.logger.Warn("Failed to re-queue job for retry",
				zap.String("job_id", job.ID.String()),
			)
		}
	})
}

// finish releases the job key and records the final state
func (s *Scheduler) finish(job *Job) {
	s.mu.Lock()
	if s.active[job.Key()] == job.ID {
		delete(s.active, job.Key())
	}
	s.mu.Unlock()
	s.addToHistory(job)
}

// addToHistory records a snapshot of job, newest first
func (s *Scheduler) addToHistory(job *Job) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]Job{*job}, s.history...)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[:s.config.HistorySize]
	}
}

// GetJobHistory returns recent job attempts, newest first
func (s *Scheduler) GetJobHistory(limit int) []Job {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]Job, limit)
	copy(result, s.history[:limit])
	return result
}

// Pending returns the keys of queued, running or retry-waiting work
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.active))
	for key := range s.active {
		keys = append(keys, key)
	}
	return keys
}
