// Package controller owns the job lifecycle state machine. It is the single
// writer of job status and progress; every transition for a given job is
// serialized behind a per-job lock, while different jobs proceed in parallel.
package controller

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
	"github.com/tunekit/tunekit-api/internal/notification"
	"github.com/tunekit/tunekit-api/internal/repository"
	"github.com/tunekit/tunekit-api/internal/runner"
)

type Controller struct {
	jobs        repository.JobRepository
	checkpoints repository.CheckpointRepository
	telemetry   repository.TelemetryRepository
	datasets    repository.DatasetRepository
	baseModels  repository.ModelRepository
	notifier    notification.Service
	runner      runner.Runner
	logger      zerolog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	handles map[string]runner.Handle
}

func New(
	jobs repository.JobRepository,
	checkpoints repository.CheckpointRepository,
	telemetry repository.TelemetryRepository,
	datasets repository.DatasetRepository,
	baseModels repository.ModelRepository,
	notifier notification.Service,
	r runner.Runner,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		jobs:        jobs,
		checkpoints: checkpoints,
		telemetry:   telemetry,
		datasets:    datasets,
		baseModels:  baseModels,
		notifier:    notifier,
		runner:      r,
		logger:      logger.With().Str("component", "job_controller").Logger(),
		locks:       map[string]*sync.Mutex{},
		handles:     map[string]runner.Handle{},
	}
}

type CreateJobParams struct {
	Name    string
	Model   string
	Dataset string
	Config  models.TrainingConfig
}

func (c *Controller) CreateJob(ctx context.Context, params CreateJobParams) (models.Job, error) {
	if strings.TrimSpace(params.Name) == "" {
		return models.Job{}, apperr.InvalidInput("job name is required")
	}
	if strings.TrimSpace(params.Model) == "" {
		return models.Job{}, apperr.InvalidInput("base model reference is required")
	}
	if strings.TrimSpace(params.Dataset) == "" {
		return models.Job{}, apperr.InvalidInput("dataset reference is required")
	}

	params.Config.ApplyDefaults()
	if err := params.Config.Validate(); err != nil {
		return models.Job{}, apperr.InvalidInput("invalid training config: %v", err)
	}

	return c.jobs.Create(ctx, models.Job{
		Name:    strings.TrimSpace(params.Name),
		Model:   strings.TrimSpace(params.Model),
		Dataset: strings.TrimSpace(params.Dataset),
		Config:  params.Config,
	})
}

// EditJob changes name, model, dataset or config. Only pending jobs may be
// edited.
func (c *Controller) EditJob(ctx context.Context, jobID string, update repository.JobUpdate) (models.Job, error) {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.JobStatusPending {
		return models.Job{}, apperr.InvalidState("cannot edit a %s job; edits are only allowed while pending", job.Status)
	}

	if update.Config != nil {
		cfg := *update.Config
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return models.Job{}, apperr.InvalidInput("invalid training config: %v", err)
		}
		update.Config = &cfg
	}
	return c.jobs.Update(ctx, jobID, update)
}

// Start launches a pending job or resumes a paused one. The runner signal is
// dispatched asynchronously; the call returns once the transition is
// persisted.
func (c *Controller) Start(ctx context.Context, jobID string) (models.Job, error) {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}

	switch job.Status {
	case models.JobStatusPending:
		// Both references must still resolve; the job stays pending on failure.
		if _, err := c.baseModels.GetByRef(ctx, job.Model); err != nil {
			if apperr.IsNotFound(err) {
				return models.Job{}, apperr.PreconditionFailed("base model %q no longer exists", job.Model)
			}
			return models.Job{}, err
		}
		if _, err := c.datasets.GetByRef(ctx, job.Dataset); err != nil {
			if apperr.IsNotFound(err) {
				return models.Job{}, apperr.PreconditionFailed("dataset %q no longer exists", job.Dataset)
			}
			return models.Job{}, err
		}

		updated, err := c.jobs.UpdateStatus(ctx, jobID, models.JobStatusRunning, nil)
		if err != nil {
			return models.Job{}, err
		}
		go c.launch(updated)
		c.notifier.NotifyJobStarted(ctx, job.ID, job.Name)
		return updated, nil

	case models.JobStatusPaused:
		updated, err := c.jobs.UpdateStatus(ctx, jobID, models.JobStatusRunning, nil)
		if err != nil {
			return models.Job{}, err
		}
		if handle, ok := c.handle(jobID); ok {
			go c.signal(jobID, "resume", func(sctx context.Context) error {
				return c.runner.Resume(sctx, handle)
			})
		}
		c.notifier.NotifyJobResumed(ctx, job.ID, job.Name)
		return updated, nil

	default:
		return models.Job{}, apperr.InvalidState("cannot start a %s job", job.Status)
	}
}

func (c *Controller) Pause(ctx context.Context, jobID string) (models.Job, error) {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.JobStatusRunning {
		return models.Job{}, apperr.InvalidState("cannot pause a %s job", job.Status)
	}

	updated, err := c.jobs.UpdateStatus(ctx, jobID, models.JobStatusPaused, nil)
	if err != nil {
		return models.Job{}, err
	}
	if handle, ok := c.handle(jobID); ok {
		go c.signal(jobID, "pause", func(sctx context.Context) error {
			return c.runner.Pause(sctx, handle)
		})
	}
	c.notifier.NotifyJobPaused(ctx, job.ID, job.Name)
	return updated, nil
}

// Stop cancels a running or paused job. The transition is irreversible and
// all runner reports arriving afterwards are rejected.
func (c *Controller) Stop(ctx context.Context, jobID string) (models.Job, error) {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.JobStatusRunning && job.Status != models.JobStatusPaused {
		return models.Job{}, apperr.InvalidState("cannot stop a %s job", job.Status)
	}

	updated, err := c.jobs.UpdateStatus(ctx, jobID, models.JobStatusStopped, nil)
	if err != nil {
		return models.Job{}, err
	}
	if handle, ok := c.takeHandle(jobID); ok {
		go c.signal(jobID, "stop", func(sctx context.Context) error {
			return c.runner.Stop(sctx, handle)
		})
	}
	c.notifier.NotifyJobStopped(ctx, job.ID, job.Name)
	return updated, nil
}

// Delete removes a job in any state, cascading to its checkpoints, metrics
// and logs. An active runner task is stopped best-effort first.
func (c *Controller) Delete(ctx context.Context, jobID string) error {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	if handle, ok := c.takeHandle(jobID); ok {
		go c.signal(jobID, "stop", func(sctx context.Context) error {
			return c.runner.Stop(sctx, handle)
		})
	}
	return c.jobs.Delete(ctx, jobID)
}

// Retry clones a failed job into a brand-new pending job. The original is
// left untouched.
func (c *Controller) Retry(ctx context.Context, jobID string) (models.Job, error) {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.JobStatusFailed {
		return models.Job{}, apperr.InvalidState("cannot retry a %s job; only failed jobs can be retried", job.Status)
	}

	return c.jobs.Create(ctx, models.Job{
		Name:    job.Name + " (retry)",
		Model:   job.Model,
		Dataset: job.Dataset,
		Config:  job.Config,
	})
}

// launch runs outside the request path. A failed launch surfaces as a failed
// job, never as an HTTP error.
func (c *Controller) launch(job models.Job) {
	ctx := context.Background()
	handle, err := c.runner.Launch(ctx, job, c)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to launch training task")
		c.ReportFailed(job.ID, "failed to launch training task: "+err.Error())
		return
	}

	lock := c.jobLock(job.ID)
	lock.Lock()
	defer lock.Unlock()

	// The job may have been stopped or deleted while the launch was in
	// flight; in that case the fresh task is reaped immediately.
	current, err := c.jobs.Get(ctx, job.ID)
	if err != nil || current.Status.Terminal() {
		go c.signal(job.ID, "stop", func(sctx context.Context) error {
			return c.runner.Stop(sctx, handle)
		})
		return
	}
	c.storeHandle(job.ID, handle)
}

func (c *Controller) signal(jobID, name string, fn func(context.Context) error) {
	if err := fn(context.Background()); err != nil {
		c.logger.Error().Err(err).Str("job_id", jobID).Str("signal", name).Msg("Runner signal failed")
	}
}

func (c *Controller) jobLock(jobID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[jobID] = lock
	}
	return lock
}

func (c *Controller) handle(jobID string) (runner.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[jobID]
	return h, ok
}

func (c *Controller) storeHandle(jobID string, h runner.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[jobID] = h
}

func (c *Controller) takeHandle(jobID string) (runner.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[jobID]
	delete(c.handles, jobID)
	return h, ok
}
