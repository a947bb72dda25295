package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"relay/internal/poller"
	"relay/internal/utils/id"
)

// ErrJobNotFound is returned when a job id has no record.
var ErrJobNotFound = errors.New("job not found")

// JobStore is an in-memory store of long-running job records serving
// the polling status endpoint.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]poller.JobStatus
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]poller.JobStatus)}
}

// Create registers a new pending job and returns its record. An empty
// jobID gets a generated one.
func (s *JobStore) Create(jobID, message string) poller.JobStatus {
	if jobID == "" {
		jobID = id.NewJobID()
	}
	now := time.Now()
	job := poller.JobStatus{
		ID:        jobID,
		Status:    poller.JobPending,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()
	return job
}

// Get returns a copy of the job record.
func (s *JobStore) Get(jobID string) (poller.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return poller.JobStatus{}, ErrJobNotFound
	}
	return job, nil
}

// UpdateProgress moves a job to RUNNING with the given progress and message.
func (s *JobStore) UpdateProgress(jobID string, progress float64, message string) error {
	return s.mutate(jobID, func(job *poller.JobStatus) {
		job.Status = poller.JobRunning
		job.Progress = &progress
		job.Message = message
	})
}

// Complete marks a job COMPLETED with its result payload.
func (s *JobStore) Complete(jobID string, result json.RawMessage) error {
	return s.mutate(jobID, func(job *poller.JobStatus) {
		full := 100.0
		job.Status = poller.JobCompleted
		job.Progress = &full
		job.Result = result
	})
}

// Fail marks a job FAILED with an error message.
func (s *JobStore) Fail(jobID, errMsg string) error {
	return s.mutate(jobID, func(job *poller.JobStatus) {
		job.Status = poller.JobFailed
		job.Error = errMsg
	})
}

// Cancel marks a job CANCELLED.
func (s *JobStore) Cancel(jobID string) error {
	return s.mutate(jobID, func(job *poller.JobStatus) {
		job.Status = poller.JobCancelled
	})
}

// List returns copies of all job records.
func (s *JobStore) List() []poller.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]poller.JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

func (s *JobStore) mutate(jobID string, fn func(*poller.JobStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	fn(&job)
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}
