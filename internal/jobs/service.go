// Package jobs owns the asynchronous job lifecycle: submission and
// cancellation on the API side, and claim-execute-finish on the worker side,
// together with the alignment and structure prediction handlers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// Dispatcher hands jobs to workers and revokes them.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID int64) error
	Revoke(ctx context.Context, jobID int64, terminate bool) error
}

// StatusCache mirrors job status for cheap polling. Writes are best effort.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID int64, status string, ttl time.Duration) error
}

// ListOptions narrows a job listing.
type ListOptions struct {
	Status models.JobStatus
	Skip   int
	Limit  int
}

// Service is the API-facing side of the job lifecycle. Jobs are visible only
// to their owner; anyone else gets NotFound.
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	status     StatusCache
	statusTTL  time.Duration
}

func NewService(st store.Store, dispatcher Dispatcher, status StatusCache, statusTTL time.Duration) *Service {
	return &Service{store: st, dispatcher: dispatcher, status: status, statusTTL: statusTTL}
}

// Submit validates params, stores a PENDING job and enqueues it. The row is
// committed before the task is published so a worker never sees a task for a
// job it cannot load. If publishing fails the row is removed again.
func (s *Service) Submit(ctx context.Context, userID int64, params models.JobParams) (*models.Job, error) {
	if params == nil {
		return nil, apperr.Validation("job params are required")
	}
	if err := validateStruct(params); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode job params: %w", err)
	}

	job := &models.Job{
		UserID:  userID,
		JobType: params.JobType(),
		Status:  models.JobStatusPending,
		Params:  raw,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		if delErr := s.store.DeleteJob(context.WithoutCancel(ctx), job.ID); delErr != nil {
			slog.Error("failed to remove undispatched job", "job_id", job.ID, "error", delErr)
		}
		return nil, fmt.Errorf("dispatching job %d: %w", job.ID, err)
	}

	s.cacheStatus(ctx, job.ID, job.Status)
	slog.Info("job submitted", "job_id", job.ID, "job_type", job.JobType, "user_id", userID)
	return job, nil
}

// Get returns the job if userID owns it.
func (s *Service) Get(ctx context.Context, jobID, userID int64) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Job", jobID)
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, apperr.NotFound("Job", jobID)
	}
	return job, nil
}

// List returns one page of the user's jobs, newest first, and the total count.
func (s *Service) List(ctx context.Context, userID int64, opts ListOptions) ([]*models.Job, int, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, apperr.Validation("unknown job status %q", opts.Status)
	}
	if opts.Skip < 0 {
		return nil, 0, apperr.Validation("skip must not be negative")
	}
	return s.store.ListJobs(ctx, store.JobFilter{
		UserID: userID,
		Status: opts.Status,
		Skip:   opts.Skip,
		Limit:  opts.Limit,
	})
}

// Cancel marks a PENDING or RUNNING job CANCELLED, then revokes it so no
// worker starts it and a running handler is interrupted through its context.
// The status is written first: whatever the worker writes afterwards is
// discarded by the store's RUNNING guard. A failed revocation is logged; an
// unstarted job still cannot be claimed out of CANCELLED.
func (s *Service) Cancel(ctx context.Context, jobID, userID int64) (*models.Job, error) {
	job, err := s.Get(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Cancellable() {
		return nil, cannotCancel(job.Status)
	}

	cancelled, err := s.store.CancelJob(ctx, jobID)
	if err != nil {
		var te *store.TransitionError
		if errors.As(err, &te) {
			return nil, cannotCancel(te.From)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Job", jobID)
		}
		return nil, fmt.Errorf("cancelling job %d: %w", jobID, err)
	}
	s.cacheStatus(ctx, jobID, cancelled.Status)

	if err := s.dispatcher.Revoke(context.WithoutCancel(ctx), jobID, true); err != nil {
		slog.Warn("revoking cancelled job failed", "job_id", jobID, "error", err)
	}

	slog.Info("job cancelled", "job_id", jobID, "previous_status", job.Status)
	return cancelled, nil
}

// Delete removes the job. An unfinished job is revoked first; a revocation
// failure is logged and does not block the delete.
func (s *Service) Delete(ctx context.Context, jobID, userID int64) error {
	job, err := s.Get(ctx, jobID, userID)
	if err != nil {
		return err
	}

	if job.Status.Cancellable() {
		if err := s.dispatcher.Revoke(ctx, jobID, true); err != nil {
			slog.Warn("revoke before delete failed", "job_id", jobID, "error", err)
		}
	}

	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Job", jobID)
		}
		return fmt.Errorf("deleting job %d: %w", jobID, err)
	}
	return nil
}

func (s *Service) cacheStatus(ctx context.Context, jobID int64, status models.JobStatus) {
	if s.status == nil {
		return
	}
	if err := s.status.SetJobStatus(ctx, jobID, string(status), s.statusTTL); err != nil {
		slog.Warn("caching job status failed", "job_id", jobID, "error", err)
	}
}

func cannotCancel(status models.JobStatus) error {
	return apperr.Validation(
		"Cannot cancel job with status %s. Only PENDING or RUNNING jobs can be cancelled.", status)
}
