package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
)

const finishTimeout = 10 * time.Second

// RevocationChecker tells whether a job was revoked before it started.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jobID int64) (bool, error)
}

// Task is one delivery of a job id to a worker.
type Task struct {
	JobID       int64
	Redelivered bool
}

// Limits bounds a single job execution.
type Limits struct {
	// Soft is the deadline of the context handed to the handler.
	Soft time.Duration
	// Hard is how long the processor waits for the handler before failing the
	// job regardless.
	Hard      time.Duration
	StatusTTL time.Duration
}

// Processor executes claimed jobs on the worker side.
type Processor struct {
	store     store.Store
	revoked   RevocationChecker
	status    StatusCache
	alignment *AlignmentHandler
	structure *StructureHandler
	limits    Limits
}

func NewProcessor(st store.Store, revoked RevocationChecker, status StatusCache,
	alignment *AlignmentHandler, structure *StructureHandler, limits Limits) *Processor {
	return &Processor{
		store:     st,
		revoked:   revoked,
		status:    status,
		alignment: alignment,
		structure: structure,
		limits:    limits,
	}
}

// Process claims the job, runs its handler and records the outcome. It
// returns an error when the task should be retried: the job could not be
// claimed for an infrastructure reason, or the worker shut down mid-run and
// the job was left RUNNING for redelivery. Revoked, missing and
// already-finished jobs are skipped with a nil error.
//
// ctx is cancelled with ErrRevoked when the job is revoked while running and
// with ErrWorkerShutdown when the worker gives up waiting for it.
func (p *Processor) Process(ctx context.Context, task Task) error {
	logger := slog.With("job_id", task.JobID)

	if p.revoked != nil {
		revoked, err := p.revoked.IsRevoked(ctx, task.JobID)
		if err != nil {
			logger.Warn("revocation check failed", "error", err)
		}
		if revoked {
			logger.Info("skipping revoked job")
			p.cancelRevoked(ctx, task.JobID, logger)
			return nil
		}
	}

	job, err := p.store.ClaimJob(ctx, task.JobID, task.Redelivered)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotClaimable) {
		logger.Info("skipping job", "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claiming job %d: %w", task.JobID, err)
	}

	logger = logger.With("job_type", job.JobType)
	logger.Info("job started", "redelivered", task.Redelivered)
	p.cacheStatus(ctx, job.ID, models.JobStatusRunning)

	start := time.Now()
	result, runErr := p.run(ctx, job)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if runErr != nil && ctx.Err() != nil {
		switch cause := context.Cause(ctx); {
		case errors.Is(cause, ErrWorkerShutdown):
			logger.Warn("job interrupted by shutdown, leaving it for redelivery",
				"duration", time.Since(start), "error", runErr)
			return fmt.Errorf("job %d interrupted: %w", job.ID, ErrWorkerShutdown)
		case errors.Is(cause, ErrRevoked):
			logger.Info("job revoked while running", "duration", time.Since(start))
			p.cancelRevoked(finishCtx, job.ID, logger)
			return nil
		}
	}

	status := models.JobStatusCompleted
	var finishErr error
	if runErr == nil {
		var raw []byte
		raw, runErr = json.Marshal(result)
		if runErr == nil {
			finishErr = p.store.FinishJob(finishCtx, job.ID, status, store.WithResult(raw))
		}
	}
	if runErr != nil {
		status = models.JobStatusFailed
		finishErr = p.store.FinishJob(finishCtx, job.ID, status, store.WithErrorMessage(failureMessage(runErr)))
	}

	switch {
	case errors.Is(finishErr, store.ErrStaleTransition):
		logger.Info("discarding outcome of job no longer running", "outcome", status, "reason", finishErr)
		return nil
	case finishErr != nil:
		logger.Error("recording job outcome failed", "outcome", status, "error", finishErr)
		return nil
	}

	p.cacheStatus(finishCtx, job.ID, status)
	if runErr != nil {
		logger.Warn("job failed", "duration", time.Since(start), "error", runErr)
	} else {
		logger.Info("job completed", "duration", time.Since(start))
	}
	return nil
}

// cancelRevoked moves a revoked job to CANCELLED. The API usually got there
// first, in which case the transition error is expected and ignored.
func (p *Processor) cancelRevoked(ctx context.Context, jobID int64, logger *slog.Logger) {
	_, err := p.store.CancelJob(ctx, jobID)
	switch {
	case err == nil:
		p.cacheStatus(ctx, jobID, models.JobStatusCancelled)
		logger.Info("revoked job marked cancelled")
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
	default:
		logger.Error("cancelling revoked job failed", "error", err)
	}
}

type outcome struct {
	result models.JobResult
	err    error
}

// run executes the handler under the soft and hard limits. After the hard
// limit the handler goroutine is abandoned; its context is already expired
// so it stops at its next check.
func (p *Processor) run(ctx context.Context, job *models.Job) (models.JobResult, error) {
	softCtx, cancel := context.WithTimeout(ctx, p.limits.Soft)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in job handler", "job_id", job.ID, "error", r)
				done <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()

		params, err := models.DecodeParams(job.Params)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := p.execute(softCtx, params)
		done <- outcome{result: res, err: err}
	}()

	hard := time.NewTimer(p.limits.Hard)
	defer hard.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-hard.C:
		return nil, &TimeLimitError{Limit: p.limits.Hard}
	}
}

func (p *Processor) execute(ctx context.Context, params models.JobParams) (models.JobResult, error) {
	switch prm := params.(type) {
	case models.PairwiseAlignmentParams:
		return p.alignment.Run(ctx, prm)
	case models.StructurePredictionParams:
		return p.structure.Run(ctx, prm)
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownJobType, params)
	}
}

func (p *Processor) cacheStatus(ctx context.Context, jobID int64, status models.JobStatus) {
	if p.status == nil {
		return
	}
	if err := p.status.SetJobStatus(ctx, jobID, string(status), p.limits.StatusTTL); err != nil {
		slog.Warn("caching job status failed", "job_id", jobID, "error", err)
	}
}
