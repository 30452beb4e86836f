// Package worker runs queued jobs. Every slot of the pool owns a consumer
// with prefetch 1, so a busy slot never holds a second task that another
// worker could have started.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jakub-figat/chromatin/internal/jobs"
	"github.com/jakub-figat/chromatin/internal/queue"
)

// Config represents pool configuration.
type Config struct {
	Concurrency int // number of jobs executed at once
	// ShutdownTimeout is how long Run lets in-flight jobs finish after its
	// context is cancelled before terminating them. Zero waits indefinitely.
	ShutdownTimeout time.Duration
}

// Validate validates configuration.
func (cfg Config) Validate() error {
	if cfg.Concurrency < 1 {
		return errors.New("concurrency must be greater than 0")
	}
	if cfg.ShutdownTimeout < 0 {
		return errors.New("shutdown timeout must be greater than or equal to 0")
	}
	return nil
}

// Consumer opens a stream of tasks with the given prefetch. The stream stops
// when ctx is cancelled; deliveries already handed out stay settleable until
// release is called.
type Consumer interface {
	Consume(ctx context.Context, prefetch int) (deliveries <-chan queue.Delivery, release func() error, err error)
}

// Processor executes one task.
type Processor interface {
	Process(ctx context.Context, task jobs.Task) error
}

// Revocations streams the ids of jobs to terminate.
type Revocations interface {
	SubscribeRevocations(ctx context.Context) (<-chan int64, func() error, error)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Active    int64
	Processed int64
	Errored   int64
	Revoked   int64
	// Requeued counts tasks handed back to the queue by a shutdown.
	Requeued int64
}

type metrics struct {
	active    atomic.Int64
	processed atomic.Int64
	errored   atomic.Int64
	revoked   atomic.Int64
	requeued  atomic.Int64
}

// Pool consumes tasks and hands them to a Processor.
type Pool struct {
	cfg         Config
	consumer    Consumer
	processor   Processor
	revocations Revocations

	mu      sync.Mutex
	running map[int64]context.CancelCauseFunc

	metrics metrics
}

// NewPool creates a pool. revocations may be nil, in which case running jobs
// can only be stopped by their time limits.
func NewPool(cfg Config, consumer Consumer, processor Processor, revocations Revocations) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	return &Pool{
		cfg:         cfg,
		consumer:    consumer,
		processor:   processor,
		revocations: revocations,
		running:     make(map[int64]context.CancelCauseFunc),
	}, nil
}

// Run consumes until ctx is cancelled or a consumer stream ends. Jobs already
// executing are allowed to finish, up to ShutdownTimeout; jobs still running
// after that are interrupted and their tasks requeued. Consumers are released
// only once every delivery is settled. It returns nil on a clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// Revocations keep arriving while running jobs drain.
	listenCtx, stopListening := context.WithCancel(context.WithoutCancel(ctx))
	defer stopListening()

	if p.revocations != nil {
		ids, closeSub, err := p.revocations.SubscribeRevocations(listenCtx)
		if err != nil {
			return fmt.Errorf("subscribe to revocations: %w", err)
		}
		defer closeSub()
		go p.listen(listenCtx, ids)
	}

	var wg sync.WaitGroup
	errs := make(chan error, p.cfg.Concurrency)
	var releases []func() error
	defer func() {
		for _, release := range releases {
			if err := release(); err != nil {
				slog.Debug("releasing consumer failed", "error", err)
			}
		}
	}()

	for slot := 0; slot < p.cfg.Concurrency; slot++ {
		deliveries, release, err := p.consumer.Consume(ctx, 1)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("start consumer %d: %w", slot, err)
		}
		releases = append(releases, release)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.consume(ctx, deliveries); err != nil {
				errs <- err
				stop()
			}
		}()
	}
	slog.Info("worker pool started", "concurrency", p.cfg.Concurrency)

	<-ctx.Done()
	p.drain(&wg)

	select {
	case err := <-errs:
		return err
	default:
		slog.Info("worker pool stopped", "processed", p.metrics.processed.Load(),
			"errored", p.metrics.errored.Load(), "requeued", p.metrics.requeued.Load())
		return nil
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    p.metrics.active.Load(),
		Processed: p.metrics.processed.Load(),
		Errored:   p.metrics.errored.Load(),
		Revoked:   p.metrics.revoked.Load(),
		Requeued:  p.metrics.requeued.Load(),
	}
}

func (p *Pool) consume(ctx context.Context, deliveries <-chan queue.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return queue.ErrClosed
			}
			p.handle(ctx, d)
		}
	}
}

// handle runs one delivery. The job context is detached from ctx so a
// shutdown does not abort it; revocation and drain cancel it explicitly, with
// jobs.ErrRevoked and jobs.ErrWorkerShutdown as the cause.
func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)

	p.track(d.JobID, cancel)
	defer p.untrack(d.JobID)

	p.metrics.active.Add(1)
	err := p.processor.Process(jobCtx, jobs.Task{JobID: d.JobID, Redelivered: d.Redelivered})
	p.metrics.active.Add(-1)

	if errors.Is(err, jobs.ErrWorkerShutdown) {
		p.metrics.requeued.Add(1)
		slog.Warn("requeueing interrupted task", "job_id", d.JobID)
		if nackErr := d.Nack(true); nackErr != nil {
			slog.Warn("nack failed", "job_id", d.JobID, "error", nackErr)
		}
		return
	}
	if err != nil {
		p.metrics.errored.Add(1)
		// A second failure of the same task drops it instead of looping.
		requeue := !d.Redelivered
		slog.Error("task failed", "job_id", d.JobID, "requeue", requeue, "error", err)
		if nackErr := d.Nack(requeue); nackErr != nil {
			slog.Warn("nack failed", "job_id", d.JobID, "error", nackErr)
		}
		return
	}

	p.metrics.processed.Add(1)
	if ackErr := d.Ack(); ackErr != nil {
		slog.Warn("ack failed", "job_id", d.JobID, "error", ackErr)
	}
}

func (p *Pool) listen(ctx context.Context, ids <-chan int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ids:
			if !ok {
				return
			}
			p.terminate(id)
		}
	}
}

// terminate cancels the job if this pool is running it.
func (p *Pool) terminate(jobID int64) bool {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	slog.Info("terminating revoked job", "job_id", jobID)
	p.metrics.revoked.Add(1)
	cancel(jobs.ErrRevoked)
	return true
}

func (p *Pool) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if p.cfg.ShutdownTimeout == 0 {
		<-done
		return
	}

	timer := time.NewTimer(p.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		p.mu.Lock()
		slog.Warn("shutdown timeout reached, terminating running jobs", "running", len(p.running))
		for _, cancel := range p.running {
			cancel(jobs.ErrWorkerShutdown)
		}
		p.mu.Unlock()
		<-done
	}
}

func (p *Pool) track(jobID int64, cancel context.CancelCauseFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[jobID] = cancel
}

func (p *Pool) untrack(jobID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, jobID)
}
