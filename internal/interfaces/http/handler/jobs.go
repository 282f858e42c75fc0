package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/infrastructure/scheduler"
)

// JobTrigger enqueues background work on demand
type JobTrigger interface {
	TriggerNow(kind scheduler.JobKind, name marketplace.Name) (*scheduler.Job, error)
}

// JobQueue exposes the queue and the finished jobs of the scheduler
type JobQueue interface {
	GetJobHistory(limit int) []scheduler.Job
	Pending() []string
}

// JobHandler handles background job endpoints
type JobHandler struct {
	BaseHandler
	trigger JobTrigger
	queue   JobQueue
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(trigger JobTrigger, queue JobQueue) *JobHandler {
	return &JobHandler{trigger: trigger, queue: queue}
}

// TriggerJobRequest is the HTTP body of a manual job trigger
type TriggerJobRequest struct {
	Kind        string `json:"kind" binding:"required,oneof=import daily_sweep status_poll"`
	Marketplace string `json:"marketplace" binding:"max=50"`
}

// JobResponse represents a job in API responses
type JobResponse struct {
	ID          uuid.UUID           `json:"id"`
	Kind        scheduler.JobKind   `json:"kind"`
	Key         string              `json:"key"`
	Marketplace marketplace.Name    `json:"marketplace,omitempty"`
	Status      scheduler.JobStatus `json:"status"`
	Error       string              `json:"error,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	RetryCount  int                 `json:"retry_count"`
}

func toJobResponse(j *scheduler.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Kind:        j.Kind,
		Key:         j.Key(),
		Marketplace: j.Marketplace,
		Status:      j.Status,
		Error:       j.Error,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		RetryCount:  j.RetryCount,
	}
}

// Trigger enqueues a job now. Per-marketplace kinds need a marketplace.
// POST /jobs
func (h *JobHandler) Trigger(c *gin.Context) {
	var req TriggerJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}

	kind := scheduler.JobKind(req.Kind)
	var name marketplace.Name
	if kind != scheduler.JobKindStatusPoll {
		parsed, err := marketplace.ParseName(req.Marketplace)
		if err != nil {
			h.BadRequest(c, "A valid marketplace is required for "+req.Kind+" jobs")
			return
		}
		name = parsed
	}

	job, err := h.trigger.TriggerNow(kind, name)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Job triggered",
		zap.String("operator", getOperator(c)),
		zap.String("job_id", job.ID.String()),
		zap.String("job_key", job.Key()),
	)
	h.Accepted(c, toJobResponse(job))
}

// JobHistoryQuery holds the query parameters of the job history
type JobHistoryQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// History lists finished jobs, newest first.
// GET /jobs/history
func (h *JobHandler) History(c *gin.Context) {
	var query JobHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindingError(c, err)
		return
	}
	if query.Limit == 0 {
		query.Limit = 50
	}

	jobs := h.queue.GetJobHistory(query.Limit)
	out := make([]JobResponse, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	h.Success(c, out)
}

// Pending lists the keys of queued or running jobs.
// GET /jobs/pending
func (h *JobHandler) Pending(c *gin.Context) {
	keys := h.queue.Pending()
	if keys == nil {
		keys = []string{}
	}
	h.Success(c, keys)
}
