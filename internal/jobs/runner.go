package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DaniloDalessandro/datadock/internal/cache"
	"github.com/DaniloDalessandro/datadock/internal/core"
	"github.com/DaniloDalessandro/datadock/internal/importer"
	"github.com/DaniloDalessandro/datadock/internal/schema"
)

// Options configures a Runner. Zero values default to 3 attempts with a
// 60-second backoff base.
type Options struct {
	Importer *importer.Importer
	Queue    Queue
	Cache    *cache.Cache
	Logger   *logrus.Logger

	// MaxAttempts is the total number of executions per job; RetryBase
	// seeds the exponential backoff (base * 2^attempt).
	MaxAttempts int
	RetryBase   time.Duration
}

// Runner executes queued imports. Unlike the synchronous orchestrator it
// is not atomic: progress is visible mid-flight and a failed attempt is
// converted into a delayed re-enqueue until attempts run out.
type Runner struct {
	imp         *importer.Importer
	queue       Queue
	cache       *cache.Cache
	log         *logrus.Logger
	maxAttempts int
	retryBase   time.Duration

	now func() time.Time
}

func NewRunner(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 60 * time.Second
	}
	return &Runner{
		imp:         opts.Importer,
		queue:       opts.Queue,
		cache:       opts.Cache,
		log:         opts.Logger,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		now:         time.Now,
	}
}

// Submit registers an AsyncJob for spec and enqueues its first attempt.
func (r *Runner) Submit(ctx context.Context, spec Spec) (*core.AsyncJob, error) {
	if err := r.request(spec).Validate(); err != nil {
		return nil, err
	}

	job := &core.AsyncJob{
		ID:     uuid.NewString(),
		Label:  fmt.Sprintf("import %s", spec.TableName),
		Status: core.JobStarted,
		Owner:  spec.Owner,
	}
	if err := r.imp.Store().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := r.queue.Enqueue(ctx, Task{JobID: job.ID, Spec: spec}); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	r.log.WithFields(logrus.Fields{"job_id": job.ID, "table_name": spec.TableName}).
		Info("import job queued")
	return job, nil
}

func (r *Runner) request(spec Spec) importer.Request {
	req := importer.Request{
		Kind:        spec.Kind,
		TableName:   spec.TableName,
		EndpointURL: spec.EndpointURL,
		FileName:    spec.FileName,
		Owner:       spec.Owner,
	}
	if spec.Kind == core.KindFile {
		req.File = bytes.NewReader(spec.FileData)
	}
	return req
}

// Execute runs one attempt of a task. All outcomes are recorded on the job
// and its process; Execute itself never returns an error to the worker.
func (r *Runner) Execute(ctx context.Context, task Task) {
	store := r.imp.Store()
	log := r.log.WithFields(logrus.Fields{
		"job_id":     task.JobID,
		"table_name": task.Spec.TableName,
		"attempt":    task.Attempt + 1,
	})

	job, err := store.GetJob(ctx, task.JobID)
	if err != nil {
		log.WithError(err).Error("job record missing, dropping task")
		return
	}
	job.Status = core.JobStarted
	job.Error = ""
	if err := store.UpdateJob(ctx, job); err != nil {
		log.WithError(err).Warn("failed to mark job started")
	}

	p, stats, err := r.run(ctx, job, task.Spec)
	if err != nil {
		r.fail(ctx, job, p, task, err)
		return
	}

	now := r.now()
	job.Status = core.JobSuccess
	job.Progress = 100
	job.Result = &stats
	job.CompletedAt = &now
	if err := store.UpdateJob(ctx, job); err != nil {
		log.WithError(err).Error("failed to record job success")
	}
	if r.cache != nil {
		r.cache.InvalidateProcess(p.ID)
	}
	log.WithFields(logrus.Fields{
		"inserted":   stats.Inserted,
		"duplicates": stats.Duplicates,
	}).Info("import job finished")
}

// run performs the import steps for one attempt.
func (r *Runner) run(ctx context.Context, job *core.AsyncJob, spec Spec) (*core.ImportProcess, core.ImportStats, error) {
	var stats core.ImportStats
	store := r.imp.Store()
	req := r.request(spec)

	p, _, err := r.imp.GetOrCreateProcess(ctx, req)
	if err != nil {
		return nil, stats, err
	}
	if job.ProcessID != p.ID {
		job.ProcessID = p.ID
		if uerr := store.UpdateJob(ctx, job); uerr != nil {
			r.log.WithError(uerr).Warn("failed to attach process to job")
		}
	}
	if !spec.Append && p.RecordCount > 0 {
		return p, stats, &core.ValidationError{
			Msg: fmt.Sprintf("process %q already has data; use append", spec.TableName),
		}
	}

	rows, err := r.imp.LoadRows(ctx, req)
	if err != nil {
		return p, stats, err
	}

	// Append keeps the structure the first import settled on; a changed
	// source shape surfaces as error rows, not a silent schema rewrite.
	if !spec.Append || len(p.ColumnStructure) == 0 {
		p.ColumnStructure = schema.Analyze(rows)
	}

	job.Progress = 50
	if err := store.UpdateJob(ctx, job); err != nil {
		r.log.WithError(err).Warn("failed to record progress checkpoint")
	}

	stats, err = r.imp.NormalizeAndInsert(ctx, store, p, rows)
	if err != nil {
		return p, stats, err
	}

	// Dedup makes the insert idempotent across retries; deriving the
	// increment from this attempt's inserted count keeps record_count from
	// double-counting when an attempt dies after inserting.
	if spec.Append {
		p.RecordCount += stats.Inserted
	} else {
		p.RecordCount = stats.Inserted
	}
	p.Status = core.StatusActive
	p.ErrorMessage = ""
	if err := store.UpdateProcess(ctx, p); err != nil {
		return p, stats, err
	}
	return p, stats, nil
}

// fail records the error and either schedules a retry or marks the job
// terminally failed.
func (r *Runner) fail(ctx context.Context, job *core.AsyncJob, p *core.ImportProcess, task Task, cause error) {
	store := r.imp.Store()
	log := r.log.WithFields(logrus.Fields{"job_id": job.ID, "attempt": task.Attempt + 1})

	job.Error = cause.Error()

	// A validation error is deterministic: re-running the same spec cannot
	// change the outcome, so the job fails on the spot. The error stays on
	// the job alone; the process it names was not touched by this attempt.
	var verr *core.ValidationError
	rejected := errors.As(cause, &verr)

	final := rejected || task.Attempt+1 >= r.maxAttempts
	if final {
		now := r.now()
		job.Status = core.JobFailed
		job.CompletedAt = &now
	} else {
		job.Status = core.JobRetrying
	}
	if err := store.UpdateJob(ctx, job); err != nil {
		log.WithError(err).Error("failed to record job failure")
	}

	if p != nil && !rejected {
		p.ErrorMessage = cause.Error()
		if final {
			p.Status = core.StatusInactive
		}
		if err := store.UpdateProcess(ctx, p); err != nil {
			log.WithError(err).Warn("failed to record error on process")
		}
	}

	if rejected {
		log.WithError(cause).Error("import job rejected")
		return
	}
	if final {
		log.WithError(cause).Error("import job failed, attempts exhausted")
		return
	}

	delay := r.retryBase * (1 << task.Attempt)
	retry := Task{JobID: job.ID, Spec: task.Spec, Attempt: task.Attempt + 1, Delay: delay}
	if err := r.queue.Enqueue(ctx, retry); err != nil {
		log.WithError(err).Error("failed to re-enqueue job")
		return
	}
	log.WithError(cause).WithField("delay", delay).Warn("import job attempt failed, retrying")
}
