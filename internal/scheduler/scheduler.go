package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/outline-bot/subscription-service/internal/domain/models"
	"github.com/outline-bot/subscription-service/internal/domain/ports"
	"github.com/outline-bot/subscription-service/pkg/observability"
	"github.com/outline-bot/subscription-service/pkg/resilience"
	"github.com/outline-bot/subscription-service/pkg/timeutil"
)

// Handler keys stored in scheduler_jobs rows. Stable identifiers: changing
// them strands persisted jobs.
const (
	HandlerDeactivate = "DEACTIVATE"
	HandlerNotify     = "NOTIFY"
)

// DeactivateJobID is the stable job id for a subscription's expiry timer.
// One id per subscription, so rescheduling replaces rather than duplicates.
func DeactivateJobID(subID int64) string {
	return fmt.Sprintf("deactivate_%d", subID)
}

// NotifyJobID is the stable job id for a subscription's pre-expiry reminder
func NotifyJobID(subID int64) string {
	return fmt.Sprintf("notify_%d", subID)
}

// HandlerFunc executes one fired job
type HandlerFunc func(ctx context.Context, args models.JobArgs) error

// Worker drains the durable job table. It wakes on a poll interval, on the
// nearest stored deadline, and on explicit Wake calls after a transaction
// commits a new job. Each job id runs single-flight; a job row is deleted
// only after its handler returns nil, so failed firings retry on the next
// tick.
type Worker struct {
	jobs     ports.JobRepository
	logger   ports.Logger
	timeouts *resilience.TimeoutConfig

	pollInterval  time.Duration
	retryInterval time.Duration
	batchSize     int32
	now           func() time.Time

	handlers map[string]HandlerFunc

	wake chan struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a scheduler worker. Handlers must be registered before
// Run is called.
func NewWorker(jobs ports.JobRepository, timeouts *resilience.TimeoutConfig, logger ports.Logger) *Worker {
	return &Worker{
		jobs:          jobs,
		logger:        logger,
		timeouts:      timeouts,
		pollInterval:  time.Minute,
		retryInterval: 5 * time.Second,
		batchSize:     100,
		now:           timeutil.Now,
		handlers:      make(map[string]HandlerFunc),
		wake:          make(chan struct{}, 1),
		inFlight:      make(map[string]struct{}),
	}
}

// Register binds a handler key to its function
func (w *Worker) Register(handler string, fn HandlerFunc) {
	w.handlers[handler] = fn
}

// Wake nudges the worker to re-read deadlines. Called after a transaction
// that inserted or moved a job commits.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. The first pass fires everything already
// due, which is how timers missed during downtime catch up.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("scheduler worker started")
	w.Sweep(ctx)

	for {
		timer := time.NewTimer(w.nextWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.wg.Wait()
			w.logger.Info("scheduler worker stopped")
			return
		case <-timer.C:
		case <-w.wake:
			timer.Stop()
		}
		w.Sweep(ctx)
	}
}

// Sweep fires every job that is due right now. Also invoked by the cron
// endpoint as a safety net.
func (w *Worker) Sweep(ctx context.Context) {
	now := w.now()
	due, err := w.jobs.ListDue(ctx, nil, now, w.batchSize)
	if err != nil {
		w.logger.Error("list due jobs failed", ports.Err(err))
		return
	}
	for _, job := range due {
		w.fire(ctx, job)
	}
}

// nextWait returns how long to sleep: the nearest stored deadline, capped by
// the poll interval.
func (w *Worker) nextWait(ctx context.Context) time.Duration {
	next, err := w.jobs.NextRunAt(ctx, nil)
	if err != nil {
		w.logger.Error("read next deadline failed", ports.Err(err))
		return w.pollInterval
	}
	if next == nil {
		return w.pollInterval
	}
	wait := next.Sub(w.now())
	if wait <= 0 {
		// A deadline already in the past belongs to a row that is either in
		// flight right now or waiting out a handler failure. Sweep just ran,
		// so sleeping zero here would spin the loop against the store until
		// the row goes away.
		return w.retryInterval
	}
	if wait > w.pollInterval {
		wait = w.pollInterval
	}
	return wait
}

func (w *Worker) fire(ctx context.Context, job *models.Job) {
	w.mu.Lock()
	if _, running := w.inFlight[job.ID]; running {
		w.mu.Unlock()
		return
	}
	w.inFlight[job.ID] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, job.ID)
			w.mu.Unlock()
		}()
		w.execute(ctx, job)
	}()
}

func (w *Worker) execute(ctx context.Context, job *models.Job) {
	fn, ok := w.handlers[job.Handler]
	if !ok {
		w.logger.Error("no handler registered for job",
			ports.String("job_id", job.ID),
			ports.String("handler", job.Handler))
		observability.RecordJobFired(job.Handler, "unknown_handler")
		return
	}

	var args models.JobArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		w.logger.Error("undecodable job args, dropping job",
			ports.String("job_id", job.ID),
			ports.Err(err))
		observability.RecordJobFired(job.Handler, "bad_args")
		// The row can never succeed, remove it
		if err := w.jobs.Delete(ctx, nil, job.ID); err != nil {
			w.logger.Error("delete malformed job failed", ports.String("job_id", job.ID), ports.Err(err))
		}
		return
	}

	jobCtx, cancel := w.timeouts.JobContext(ctx)
	defer cancel()

	start := w.now()
	if err := fn(jobCtx, args); err != nil {
		w.logger.Error("job handler failed, will retry",
			ports.String("job_id", job.ID),
			ports.String("handler", job.Handler),
			ports.Int64("sub_id", args.SubID),
			ports.Err(err))
		observability.RecordJobFired(job.Handler, "failed")
		return
	}

	if err := w.jobs.Delete(jobCtx, nil, job.ID); err != nil {
		w.logger.Error("delete completed job failed",
			ports.String("job_id", job.ID),
			ports.Err(err))
		return
	}

	observability.RecordJobFired(job.Handler, "ok")
	observability.ObserveJobDuration(job.Handler, w.now().Sub(start))
	w.logger.Info("job completed",
		ports.String("job_id", job.ID),
		ports.String("handler", job.Handler),
		ports.Int64("sub_id", args.SubID))
}
