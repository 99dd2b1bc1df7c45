package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/id-verify/internal/jobstore"
	"github.com/example/id-verify/internal/logging"
	"github.com/example/id-verify/internal/pipeline"
	"github.com/example/id-verify/internal/repository"
)

// JobStore is the store surface the worker needs. All coordination between
// worker instances happens through its atomic dequeue.
type JobStore interface {
	Dequeue(ctx context.Context) (string, error)
	Get(ctx context.Context, id string) (jobstore.Job, error)
	Update(ctx context.Context, id string, upd jobstore.JobUpdate) error
}

// Runner runs the verification pipeline for one claimed job.
type Runner interface {
	Run(ctx context.Context, job jobstore.Job) (pipeline.Outcome, error)
}

// Auditor records finalized outcomes. Best-effort; a nil Auditor disables it.
type Auditor interface {
	RecordOutcome(ctx context.Context, rec *repository.VerificationRecord) error
}

// Worker claims jobs from the queue one at a time and drives each through
// processing to a terminal status. Every per-job failure is converted into
// status=error; nothing a single job does stops the loop.
type Worker struct {
	store       JobStore
	runner      Runner
	audit       Auditor
	jobTimeout  time.Duration
	idleBackoff time.Duration
	logger      *zap.Logger
}

// New constructs a worker. audit may be nil.
func New(store JobStore, runner Runner, audit Auditor, jobTimeout, idleBackoff time.Duration, logger *zap.Logger) *Worker {
	if jobTimeout == 0 {
		jobTimeout = 2 * time.Minute
	}
	if idleBackoff == 0 {
		idleBackoff = time.Second
	}
	return &Worker{
		store:       store,
		runner:      runner,
		audit:       audit,
		jobTimeout:  jobTimeout,
		idleBackoff: idleBackoff,
		logger:      logger.Named("worker"),
	}
}

// Run loops until the context is cancelled: dequeue, process, repeat. An
// empty dequeue result (bounded-wait timeout) simply re-polls, which is the
// shutdown check point. Dequeue errors back off briefly instead of spinning.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started, waiting for jobs")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return nil
		}

		id, err := w.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return nil
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.idleBackoff):
			}
			continue
		}
		if id == "" {
			continue
		}

		w.process(ctx, id)
	}
}

// process owns one claimed job start to finish. The claim is exclusive:
// BLPOP already removed the id from the queue, so no other worker sees it.
func (w *Worker) process(ctx context.Context, id string) {
	start := time.Now()
	opLogger := logging.WithOperation(w.logger, "worker.process", id)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	job, err := w.store.Get(jobCtx, id)
	if errors.Is(err, jobstore.ErrNotFound) {
		// Should not happen; skip rather than crash the loop.
		opLogger.Warn("claimed id has no record, skipping")
		return
	}
	if err != nil {
		opLogger.Error("record lookup failed", zap.Error(err))
		return
	}

	// Mark the claim before any pipeline work so a crash mid-pipeline
	// leaves visible evidence.
	processing := jobstore.StatusProcessing
	if err := w.store.Update(jobCtx, id, jobstore.JobUpdate{Status: &processing}); err != nil {
		opLogger.Error("failed to mark job processing", zap.Error(err))
		return
	}

	outcome, err := w.runner.Run(jobCtx, job)
	if err != nil {
		opLogger.Error("pipeline failed", zap.Error(err))
		w.failJob(id, err, job, start)
		return
	}

	fields := jobstore.IDFields{
		FullName:       outcome.Fields.FullName,
		DOB:            outcome.Fields.DOB,
		DocumentNumber: outcome.Fields.DocumentNumber,
	}
	upd := jobstore.JobUpdate{
		Status:      &outcome.Status,
		Score:       &outcome.Score,
		Fields:      &fields,
		FacePresent: &outcome.FacePresent,
	}
	if err := w.store.Update(jobCtx, id, upd); err != nil {
		opLogger.Error("failed to persist outcome", zap.Error(err))
		w.failJob(id, err, job, start)
		return
	}

	opLogger.Info("job finalized",
		zap.String("status", string(outcome.Status)),
		zap.Int("score", outcome.Score),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	w.recordAudit(job, string(outcome.Status), outcome.Score, outcome.FacePresent, "", start)
}

// failJob writes the terminal error status. It uses a fresh context because
// the job context may already be expired, and an expired job must still land
// in error rather than stay stuck in processing.
func (w *Worker) failJob(id string, cause error, job jobstore.Job, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errStatus := jobstore.StatusError
	msg := cause.Error()
	if err := w.store.Update(ctx, id, jobstore.JobUpdate{Status: &errStatus, Error: &msg}); err != nil {
		logging.WithOperation(w.logger, "worker.fail_job", id).Error("failed to record job error", zap.Error(err))
		return
	}
	w.recordAudit(job, string(jobstore.StatusError), 0, false, msg, start)
}

func (w *Worker) recordAudit(job jobstore.Job, status string, score int, facePresent bool, errMsg string, start time.Time) {
	if w.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &repository.VerificationRecord{
		JobID:        job.ID,
		DocumentType: job.DocumentType,
		Status:       status,
		Score:        score,
		FacePresent:  facePresent,
		ProcessingMs: time.Since(start).Milliseconds(),
		Error:        errMsg,
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.audit.RecordOutcome(ctx, rec); err != nil {
		logging.WithOperation(w.logger, "worker.audit", job.ID).Warn("failed to record audit row", zap.Error(err))
	}
}
