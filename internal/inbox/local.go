package inbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

// ErrClosed is returned by Enqueue once the queue stopped accepting jobs.
var ErrClosed = errors.New("inbox: queue closed")

// Local is an in-process queue used when no broker is configured. Jobs
// are lost on restart.
type Local struct {
	jobs     chan Job
	workers  int
	attempts uint64
	backoff  func() backoff.BackOff
	logger   *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewLocal creates a queue holding up to size pending jobs, processed by
// the given number of workers.
func NewLocal(size, workers int, log *logger.Logger) *Local {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &Local{
		jobs:     make(chan Job, size),
		workers:  workers,
		attempts: 3,
		backoff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:   log,
	}
}

// Enqueue implements Queue. It blocks while the queue is full.
func (q *Local) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx is cancelled. Jobs still queued at that
// point are drained before Run returns.
func (q *Local) Run(ctx context.Context, h Handler) error {
	g := new(errgroup.Group)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for job := range q.jobs {
				q.handle(context.WithoutCancel(ctx), h, job)
			}
			return nil
		})
	}

	<-ctx.Done()
	q.mu.Lock()
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	return g.Wait()
}

func (q *Local) handle(ctx context.Context, h Handler, job Job) {
	policy := backoff.WithMaxRetries(q.backoff(), q.attempts-1)
	err := backoff.RetryNotify(func() error {
		err := h(ctx, job)
		if err != nil && !job.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		q.logger.Warn("inbox job failed, retrying",
			zap.String("job", job.String()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		q.logger.Error("inbox job dropped",
			zap.String("job", job.String()),
			zap.String("dedupe_id", job.DedupeID()),
			zap.Error(err),
		)
	}
}
