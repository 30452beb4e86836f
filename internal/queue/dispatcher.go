package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jakub-figat/chromatin/internal/cache"
)

// Dispatcher sends jobs to the workers and revokes them. Tasks travel over
// RabbitMQ; revocations go through Redis because a message already delivered
// to a worker cannot be recalled from the broker.
type Dispatcher struct {
	pub        Publisher
	revoker    cache.Revoker
	revokedTTL time.Duration
}

func NewDispatcher(pub Publisher, revoker cache.Revoker, revokedTTL time.Duration) *Dispatcher {
	return &Dispatcher{pub: pub, revoker: revoker, revokedTTL: revokedTTL}
}

func (d *Dispatcher) Dispatch(ctx context.Context, jobID int64) error {
	return d.pub.Publish(ctx, jobID)
}

// Revoke keeps the job from starting. With terminate set, a worker currently
// executing it has its context cancelled.
func (d *Dispatcher) Revoke(ctx context.Context, jobID int64, terminate bool) error {
	if err := d.revoker.Revoke(ctx, jobID, d.revokedTTL, terminate); err != nil {
		return fmt.Errorf("revoke job %d: %w", jobID, err)
	}
	return nil
}
