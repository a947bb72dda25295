package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/taskevent"
	"relay/internal/utils/id"
)

// EventHandler accepts task events for broadcast and serves scope snapshots.
type EventHandler struct {
	broadcaster *Broadcaster
	logger      logging.Logger
	metrics     *observability.MetricsCollector
}

// NewEventHandler creates an event publish/snapshot handler.
func NewEventHandler(broadcaster *Broadcaster, logger logging.Logger, metrics *observability.MetricsCollector) *EventHandler {
	return &EventHandler{
		broadcaster: broadcaster,
		logger:      logging.OrNop(logger),
		metrics:     metrics,
	}
}

// HandlePublish accepts one task event and fans it out to the scope's
// stream clients. The scope id comes from the path; an empty ts is stamped
// with the current time so publishers without a clock still order correctly.
func (h *EventHandler) HandlePublish(c *gin.Context) {
	started := time.Now()

	scopeID := c.Param("scope_id")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id required"})
		return
	}

	var event taskevent.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload: " + err.Error()})
		return
	}

	event.ScopeID = scopeID
	if event.ID == "" {
		event.ID = id.NewMessageID()
	}
	if event.TS == "" {
		event.TS = taskevent.Timestamp(time.Now())
	}
	if !event.Entity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity: " + string(event.Entity)})
		return
	}
	if !event.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + string(event.Status)})
		return
	}

	h.broadcaster.Publish(event)
	if h.metrics != nil {
		h.metrics.RecordEventPublished(c.Request.Context(), string(event.Entity), string(event.Status), time.Since(started))
	}

	c.JSON(http.StatusAccepted, gin.H{
		"scopeId": scopeID,
		"id":      event.ID,
		"ts":      event.TS,
		"clients": h.broadcaster.ClientCount(scopeID),
	})
}

// snapshotResponse mirrors the reconciliation snapshot shape consumed by
// stream clients after a reconnect.
type snapshotResponse struct {
	ScopeID string            `json:"scopeId"`
	Events  []taskevent.Event `json:"events"`
}

// HandleSnapshot returns the scope's retained event history.
func (h *EventHandler) HandleSnapshot(c *gin.Context) {
	scopeID := c.Param("scope_id")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id required"})
		return
	}

	events := h.broadcaster.EventHistory(scopeID)
	if events == nil {
		events = []taskevent.Event{}
	}
	c.JSON(http.StatusOK, snapshotResponse{ScopeID: scopeID, Events: events})
}

// JobHandler serves job lifecycle endpoints over the in-memory job store.
type JobHandler struct {
	store   *JobStore
	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// NewJobHandler creates a job status handler.
func NewJobHandler(store *JobStore, logger logging.Logger, metrics *observability.MetricsCollector) *JobHandler {
	return &JobHandler{
		store:   store,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
}

type createJobRequest struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// HandleCreate registers a new pending job.
func (h *JobHandler) HandleCreate(c *gin.Context) {
	// An empty body is fine; a malformed one is not.
	var req createJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	job := h.store.Create(req.JobID, req.Message)
	h.logger.Info("Created job %s", job.ID)
	c.JSON(http.StatusCreated, job)
}

// HandleGet returns the current status of a job. This is the endpoint the
// polling fallback hits.
func (h *JobHandler) HandleGet(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.store.Get(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found: " + jobID})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordJobRead(c.Request.Context(), string(job.Status))
	}
	c.JSON(http.StatusOK, job)
}

type updateJobRequest struct {
	Progress *float64        `json:"progress"`
	Message  string          `json:"message"`
	Result   json.RawMessage `json:"result"`
	Error    string          `json:"error"`
	Cancel   bool            `json:"cancel"`
}

// HandleUpdate advances a job's lifecycle: progress, completion, failure,
// or cancellation, decided by which fields the request carries.
func (h *JobHandler) HandleUpdate(c *gin.Context) {
	jobID := c.Param("job_id")

	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	var err error
	switch {
	case req.Cancel:
		err = h.store.Cancel(jobID)
	case req.Error != "":
		err = h.store.Fail(jobID, req.Error)
	case len(req.Result) > 0:
		err = h.store.Complete(jobID, req.Result)
	case req.Progress != nil:
		err = h.store.UpdateProgress(jobID, *req.Progress, req.Message)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found: " + jobID})
		return
	}

	job, _ := h.store.Get(jobID)
	c.JSON(http.StatusOK, job)
}
