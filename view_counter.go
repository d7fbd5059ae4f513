package feedsearch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ViewCounterOptions struct {
	// QueueSize bounds pending pages.  Default 1024.
	QueueSize int
	// Workers is the number of background updaters.  Default 4.
	Workers int
	// Timeout bounds each counter increment.  Default 5s.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *SearchMetrics
	Now     func() time.Time
}

type viewJob struct {
	ctx  context.Context
	ids  []string
	kind ViewKind
	at   time.Time
}

// ViewCounter increments view counters of served posts in the background.
// Record never blocks: when the queue is full the update is dropped and
// logged.  Failed increments are logged and never retried.
type ViewCounter struct {
	store   ContentStore
	timeout time.Duration
	logger  *slog.Logger
	metrics *SearchMetrics
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	jobs   chan viewJob
	wg     sync.WaitGroup
}

func NewViewCounter(store ContentStore, opt *ViewCounterOptions) *ViewCounter {
	if opt == nil {
		opt = &ViewCounterOptions{}
	}
	queueSize := opt.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = 4
	}
	v := &ViewCounter{
		store:   store,
		timeout: opt.Timeout,
		logger:  opt.Logger,
		metrics: opt.Metrics,
		now:     opt.Now,
		jobs:    make(chan viewJob, queueSize),
	}
	if v.timeout <= 0 {
		v.timeout = 5 * time.Second
	}
	if v.now == nil {
		v.now = time.Now
	}

	v.wg.Add(workers)
	for range workers {
		go v.serve()
	}

	return v
}

// Record schedules one view for every post id.  An empty requester counts
// as a guest view.  ctx only carries request-scoped values for logging; its
// cancellation does not stop the update.
func (v *ViewCounter) Record(ctx context.Context, postIDs []string, requester string) {
	if len(postIDs) == 0 {
		return
	}

	kind := ViewGuest
	if requester != "" {
		kind = ViewUser
	}
	job := viewJob{
		ctx:  context.WithoutCancel(ctx),
		ids:  postIDs,
		kind: kind,
		at:   v.now(),
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		warnLog(ctx, v.logger, "view counter closed, dropping views", "err", ErrClosed, "count", len(postIDs))
		v.metrics.viewUpdate("dropped")
		return
	}

	select {
	case v.jobs <- job:
	default:
		warnLog(ctx, v.logger, "view queue full, dropping views", "err", ErrViewQueueFull, "count", len(postIDs))
		v.metrics.viewUpdate("dropped")
	}
}

func (v *ViewCounter) serve() {
	defer v.wg.Done()

	for job := range v.jobs {
		v.apply(job)
	}
}

func (v *ViewCounter) apply(job viewJob) {
	failed := 0
	for _, id := range job.ids {
		ctx, cancel := context.WithTimeout(job.ctx, v.timeout)
		err := v.store.IncrementViews(ctx, id, job.kind, job.at)
		cancel()

		if err != nil {
			failed++
			v.metrics.viewUpdate("error")
			errorLog(job.ctx, v.logger, "failed to increment views", "post", id, "err", err)
			continue
		}
		v.metrics.viewUpdate("ok")
	}

	if failed > 0 {
		warnLog(job.ctx, v.logger, "partial view count failure", "failed", failed, "total", len(job.ids))
	}
}

// Close stops accepting views and waits for queued updates to finish.
func (v *ViewCounter) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	close(v.jobs)
	v.mu.Unlock()

	v.wg.Wait()
}
