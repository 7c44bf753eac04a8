// Package sweeper runs the periodic visibility-timeout enforcement of
// spec.md §4.7 against the queue's PROCESSING list. It tolerates
// multiple concurrent runners: each entry removal inside
// Queue.RequeueStale is atomic, so two sweepers racing on the same
// stale entry simply duplicate a no-op loss of the race. Grounded on
// bobmcallan-vire's watchLoop (internal/services/jobmanager/watcher.go)
// for the ctx-cancellable ticker idiom.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixell07/docpipeline/internal/metrics"
	"github.com/pixell07/docpipeline/internal/queue"
)

// Queue is the subset of *queue.Queue the sweeper depends on.
type Queue interface {
	RequeueStale(ctx context.Context, maxAge time.Duration, maxRetries int) (queue.StaleSweepResult, error)
}

// Sweeper periodically invokes RequeueStale.
type Sweeper struct {
	queue      Queue
	maxAge     time.Duration
	maxRetries int
	interval   time.Duration
}

// New builds a Sweeper. interval controls how often RequeueStale runs;
// maxAge and maxRetries are passed through unchanged on every pass.
func New(q Queue, maxAge time.Duration, maxRetries int, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{queue: q, maxAge: maxAge, maxRetries: maxRetries, interval: interval}
}

// Run ticks until ctx is cancelled, sweeping once immediately and then on
// every tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result, err := s.queue.RequeueStale(ctx, s.maxAge, s.maxRetries)
	if err != nil {
		slog.Error("sweeper: requeue_stale failed", "error", err)
		return
	}

	metrics.SweeperRequeued.Add(float64(result.Requeued))
	metrics.SweeperMovedToDLQ.Add(float64(result.MovedToDLQ))
	metrics.SweeperSkipped.Add(float64(result.Skipped))

	if result.Requeued > 0 || result.MovedToDLQ > 0 {
		slog.Info("sweeper: pass complete",
			"requeued", result.Requeued, "moved_to_dlq", result.MovedToDLQ, "skipped", result.Skipped)
	}
}
