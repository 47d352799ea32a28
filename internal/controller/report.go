package controller

import (
	"context"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
)

// Report ingestion. Everything the runner pushes back lands here, whether it
// arrives through the in-process Reporter or the HTTP callback channel.
// Reports against a job that already reached a terminal state are rejected;
// a stopped job never reopens. Every handler holds the per-job lock across
// its status check and write, so an append can never slip in between a stop
// transition committing and its reports being rejected.

func (c *Controller) HandleProgress(ctx context.Context, jobID string, progress float64) error {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.InvalidState("job %s is already %s; progress report rejected", jobID, job.Status)
	}
	return c.jobs.UpdateProgress(ctx, jobID, progress)
}

func (c *Controller) HandleMetric(ctx context.Context, jobID string, point models.MetricPoint) error {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.InvalidState("job %s is already %s; metric report rejected", jobID, job.Status)
	}
	return c.telemetry.AppendMetric(ctx, jobID, point)
}

func (c *Controller) HandleLog(ctx context.Context, jobID string, entry models.LogEntry) error {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.InvalidState("job %s is already %s; log report rejected", jobID, job.Status)
	}
	return c.telemetry.AppendLog(ctx, jobID, entry)
}

func (c *Controller) HandleCheckpoint(ctx context.Context, jobID string, cp models.Checkpoint) (models.Checkpoint, error) {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return models.Checkpoint{}, err
	}
	if job.Status != models.JobStatusRunning {
		return models.Checkpoint{}, apperr.InvalidState("cannot record a checkpoint for a %s job", job.Status)
	}

	cp.JobID = jobID
	saved, err := c.checkpoints.Append(ctx, cp)
	if err != nil {
		return models.Checkpoint{}, err
	}
	c.notifier.NotifyCheckpointSaved(ctx, jobID, job.Name, saved.Step)
	return saved, nil
}

func (c *Controller) HandleCompleted(ctx context.Context, jobID string) error {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.InvalidState("job %s is already %s; completion report rejected", jobID, job.Status)
	}

	// Progress lands before the status flips so a poll never observes a
	// completed job below 100.
	if err := c.jobs.UpdateProgress(ctx, jobID, 100); err != nil {
		return err
	}
	if _, err := c.jobs.UpdateStatus(ctx, jobID, models.JobStatusCompleted, nil); err != nil {
		return err
	}
	c.takeHandle(jobID)
	c.notifier.NotifyJobCompleted(ctx, jobID, job.Name)
	return nil
}

func (c *Controller) HandleFailed(ctx context.Context, jobID, reason string) error {
	lock := c.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperr.InvalidState("job %s is already %s; failure report rejected", jobID, job.Status)
	}

	// The reason is persisted before the in-memory handle is discarded so
	// the UI can render it long after the task is gone.
	if _, err := c.jobs.UpdateStatus(ctx, jobID, models.JobStatusFailed, &reason); err != nil {
		return err
	}
	c.takeHandle(jobID)
	c.notifier.NotifyJobFailed(ctx, jobID, job.Name, reason)
	return nil
}

// Reporter implementation used by in-process runners. Rejected reports are
// logged as anomalies rather than propagated; the runner has nowhere to put
// an error anyway.

func (c *Controller) ReportProgress(jobID string, progress float64) {
	c.logAnomaly(jobID, "progress", c.HandleProgress(context.Background(), jobID, progress))
}

func (c *Controller) ReportMetric(jobID string, point models.MetricPoint) {
	c.logAnomaly(jobID, "metric", c.HandleMetric(context.Background(), jobID, point))
}

func (c *Controller) ReportLog(jobID string, entry models.LogEntry) {
	c.logAnomaly(jobID, "log", c.HandleLog(context.Background(), jobID, entry))
}

func (c *Controller) ReportCheckpoint(jobID string, checkpoint models.Checkpoint) {
	_, err := c.HandleCheckpoint(context.Background(), jobID, checkpoint)
	c.logAnomaly(jobID, "checkpoint", err)
}

func (c *Controller) ReportCompleted(jobID string) {
	c.logAnomaly(jobID, "completed", c.HandleCompleted(context.Background(), jobID))
}

func (c *Controller) ReportFailed(jobID string, reason string) {
	c.logAnomaly(jobID, "failed", c.HandleFailed(context.Background(), jobID, reason))
}

func (c *Controller) logAnomaly(jobID, kind string, err error) {
	if err == nil {
		return
	}
	c.logger.Warn().Err(err).Str("job_id", jobID).Str("report", kind).Msg("Discarding runner report")
}
