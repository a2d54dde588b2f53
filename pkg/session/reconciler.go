package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/moneymentor/mentor/internal/metrics"
	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/moneymentor/mentor/pkg/ports"
)

// flushJob carries a point-in-time snapshot of a session to the durable store.
type flushJob struct {
	sessionID string
	snapshot  *domain.Session
}

// ReconcilerConfig tunes the background persistence pool.
type ReconcilerConfig struct {
	// Workers is the number of goroutines draining the queue.
	Workers int
	// QueueSize bounds the number of pending flushes. A full queue drops the
	// oldest intent for that caller (the job is dead-lettered) rather than
	// blocking the request path.
	QueueSize int
	// MaxAttempts is the number of tries per job before dead-lettering.
	MaxAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
	// FlushTimeout bounds each individual store call.
	FlushTimeout time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	return c
}

// Reconciler drains scheduled durable writes without blocking the callers
// that scheduled them. Failures are retried with exponential backoff and
// finally dead-lettered: they surface in logs and metrics, never to the
// original caller.
type Reconciler struct {
	store   ports.SessionStore
	cfg     ReconcilerConfig
	logger  *slog.Logger
	metrics *metrics.Set

	mu      sync.Mutex
	jobs    chan flushJob
	pending map[string]int // queued or in-flight jobs per session
	closed  bool
	wg      sync.WaitGroup
}

// NewReconciler creates a reconciler and starts its worker pool.
func NewReconciler(store ports.SessionStore, cfg ReconcilerConfig, logger *slog.Logger, set *metrics.Set) *Reconciler {
	cfg = cfg.withDefaults()
	r := &Reconciler{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: set,
		jobs:    make(chan flushJob, cfg.QueueSize),
		pending: make(map[string]int),
	}

	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Enqueue schedules a durable write for the given snapshot. It never blocks:
// if the queue is full the job is dead-lettered immediately.
func (r *Reconciler) Enqueue(sessionID string, snapshot *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Warn("flush dropped: reconciler closed", "session_id", sessionID)
		r.metrics.DeadLetterTotal.Inc()
		return
	}

	select {
	case r.jobs <- flushJob{sessionID: sessionID, snapshot: snapshot}:
		r.pending[sessionID]++
		r.metrics.QueueDepth.Inc()
	default:
		r.logger.Error("flush dropped: queue full", "session_id", sessionID)
		r.metrics.DeadLetterTotal.Inc()
	}
}

// Close stops accepting new jobs and waits for the queue to drain.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
}

// Pending reports whether a durable write for the session is still queued or
// held by a worker. Eviction consults this: removing a cache entry while an
// older snapshot can still land would let that stale write become cache truth
// on the next load.
func (r *Reconciler) Pending(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[sessionID] > 0
}

func (r *Reconciler) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.metrics.QueueDepth.Dec()
		r.flush(job)
		r.finish(job.sessionID)
	}
}

func (r *Reconciler) finish(sessionID string) {
	r.mu.Lock()
	if n := r.pending[sessionID]; n <= 1 {
		delete(r.pending, sessionID)
	} else {
		r.pending[sessionID] = n - 1
	}
	r.mu.Unlock()
}

// flush attempts the durable upsert with capped exponential backoff.
func (r *Reconciler) flush(job flushJob) {
	backoff := r.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
		err := r.store.Upsert(ctx, job.sessionID, job.snapshot)
		cancel()

		if err == nil {
			r.metrics.FlushTotal.WithLabelValues("ok").Inc()
			return
		}

		if attempt >= r.cfg.MaxAttempts {
			r.logger.Error("flush dead-lettered: retries exhausted",
				"session_id", job.sessionID,
				"attempts", attempt,
				"err", err,
			)
			r.metrics.FlushTotal.WithLabelValues("error").Inc()
			r.metrics.DeadLetterTotal.Inc()
			return
		}

		r.logger.Warn("flush failed, retrying",
			"session_id", job.sessionID,
			"attempt", attempt,
			"backoff", backoff,
			"err", err,
		)
		r.metrics.FlushTotal.WithLabelValues("retry").Inc()
		time.Sleep(backoff)
		backoff *= 2
	}
}
