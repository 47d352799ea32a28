package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/migration"
	"github.com/tunekit/tunekit-api/internal/models"
)

type testDB struct {
	jobs          JobRepository
	checkpoints   CheckpointRepository
	telemetry     TelemetryRepository
	datasets      DatasetRepository
	baseModels    ModelRepository
	notifications NotificationRepository
	db            *sqlx.DB
}

func openTestDB(t *testing.T) *testDB {
	t.Helper()

	db, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migration.RunMigrations(db.DB, "sqlite3", zerolog.Nop())

	return &testDB{
		jobs:          NewJobRepository(db),
		checkpoints:   NewCheckpointRepository(db),
		telemetry:     NewTelemetryRepository(db, 1000),
		datasets:      NewDatasetRepository(db),
		baseModels:    NewModelRepository(db),
		notifications: NewNotificationRepository(db),
		db:            db,
	}
}

func createTestJob(t *testing.T, jobs JobRepository) models.Job {
	t.Helper()
	cfg := models.DefaultTrainingConfig()
	job, err := jobs.Create(context.Background(), models.Job{
		Name:    "llama2 summarizer",
		Model:   "meta-llama/Llama-2-7b-hf",
		Dataset: "dialogsum",
		Config:  cfg,
	})
	require.NoError(t, err)
	return job
}

func TestJobCreateForcesPendingState(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()

	job, err := tdb.jobs.Create(ctx, models.Job{
		Name:     "sneaky",
		Model:    "m",
		Dataset:  "d",
		Config:   models.DefaultTrainingConfig(),
		Status:   models.JobStatusRunning,
		Progress: 75,
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.ErrorMessage)
	assert.NotEmpty(t, job.ID)

	stored, err := tdb.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, job.Config, stored.Config)
}

func TestJobGetUnknownIsNotFound(t *testing.T) {
	tdb := openTestDB(t)

	_, err := tdb.jobs.Get(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestJobStartedAtSetOnce(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	running, err := tdb.jobs.UpdateStatus(ctx, job.ID, models.JobStatusRunning, nil)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	firstStart := *running.StartedAt

	// pause and resume; started_at must not move
	_, err = tdb.jobs.UpdateStatus(ctx, job.ID, models.JobStatusPaused, nil)
	require.NoError(t, err)
	resumed, err := tdb.jobs.UpdateStatus(ctx, job.ID, models.JobStatusRunning, nil)
	require.NoError(t, err)
	require.NotNil(t, resumed.StartedAt)
	assert.True(t, resumed.StartedAt.Equal(firstStart))
	assert.Nil(t, resumed.CompletedAt)

	done, err := tdb.jobs.UpdateStatus(ctx, job.ID, models.JobStatusCompleted, nil)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
}

func TestJobProgressIsMonotone(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	require.NoError(t, tdb.jobs.UpdateProgress(ctx, job.ID, 60))

	// a late, lower report must not wind progress back
	require.NoError(t, tdb.jobs.UpdateProgress(ctx, job.ID, 40))

	stored, err := tdb.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60.0, stored.Progress)

	// out-of-range values are clamped
	require.NoError(t, tdb.jobs.UpdateProgress(ctx, job.ID, 150))
	stored, err = tdb.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.Progress)
}

func TestJobListOrderedByCreation(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := tdb.jobs.Create(ctx, models.Job{
			Name:    fmt.Sprintf("job-%d", i),
			Model:   "m",
			Dataset: "d",
			Config:  models.DefaultTrainingConfig(),
		})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	jobs, err := tdb.jobs.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.Name)
		assert.Equal(t, ids[i], job.ID)
	}
}

func TestJobDeleteCascades(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	_, err := tdb.checkpoints.Append(ctx, models.Checkpoint{
		JobID: job.ID, Epoch: 1, Step: 100, Loss: 1.9,
	})
	require.NoError(t, err)
	require.NoError(t, tdb.telemetry.AppendMetric(ctx, job.ID, models.MetricPoint{Step: 100, Epoch: 1, Loss: 1.9}))
	require.NoError(t, tdb.telemetry.AppendLog(ctx, job.ID, models.LogEntry{Message: "step 100"}))

	require.NoError(t, tdb.jobs.Delete(ctx, job.ID))

	_, err = tdb.jobs.Get(ctx, job.ID)
	assert.True(t, apperr.IsNotFound(err))

	checkpoints, err := tdb.checkpoints.List(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)

	metrics, err := tdb.telemetry.Metrics(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, metrics)

	logs, err := tdb.telemetry.Logs(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestJobDeleteUnknownIsNotFound(t *testing.T) {
	tdb := openTestDB(t)
	err := tdb.jobs.Delete(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCheckpointStepsStrictlyIncreasing(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	_, err := tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: job.ID, Epoch: 1, Step: 10, Loss: 2.4})
	require.NoError(t, err)
	_, err = tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: job.ID, Epoch: 1, Step: 20, Loss: 2.1})
	require.NoError(t, err)

	// step 15 arrives out of order and must be rejected
	_, err = tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: job.ID, Epoch: 1, Step: 15, Loss: 2.2})
	assert.True(t, apperr.IsInvalidState(err))

	// an equal step is also rejected
	_, err = tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: job.ID, Epoch: 1, Step: 20, Loss: 2.0})
	assert.True(t, apperr.IsInvalidState(err))

	checkpoints, err := tdb.checkpoints.List(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, 10, checkpoints[0].Step)
	assert.Equal(t, 20, checkpoints[1].Step)
}

func TestCheckpointStepsIndependentPerJob(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	first := createTestJob(t, tdb.jobs)
	second := createTestJob(t, tdb.jobs)

	_, err := tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: first.ID, Step: 500, Loss: 1.5})
	require.NoError(t, err)

	// a lower step on a different job is unaffected
	_, err = tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: second.ID, Step: 10, Loss: 2.8})
	require.NoError(t, err)
}

func TestCheckpointDelete(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	cp, err := tdb.checkpoints.Append(ctx, models.Checkpoint{JobID: job.ID, Step: 10, Loss: 2.4})
	require.NoError(t, err)

	require.NoError(t, tdb.checkpoints.Delete(ctx, job.ID, cp.ID))
	err = tdb.checkpoints.Delete(ctx, job.ID, cp.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestTelemetryReadsAreIdempotent(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	for step := 1; step <= 5; step++ {
		require.NoError(t, tdb.telemetry.AppendMetric(ctx, job.ID, models.MetricPoint{
			Step: step * 10, Epoch: 1, Loss: 3.0 - float64(step)*0.2, LearningRate: 2e-4,
		}))
	}

	first, err := tdb.telemetry.Metrics(ctx, job.ID)
	require.NoError(t, err)
	second, err := tdb.telemetry.Metrics(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 5)
	assert.Equal(t, 10, first[0].Step)
	assert.Equal(t, 50, first[4].Step)
}

func TestTelemetryDuplicateMetricStepIgnored(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	require.NoError(t, tdb.telemetry.AppendMetric(ctx, job.ID, models.MetricPoint{
		Step: 100, Epoch: 1, Loss: 2.0, LearningRate: 2e-4,
	}))

	// a redelivered report for the same step is a no-op, not an error
	require.NoError(t, tdb.telemetry.AppendMetric(ctx, job.ID, models.MetricPoint{
		Step: 100, Epoch: 1, Loss: 1.5, LearningRate: 2e-4,
	}))

	metrics, err := tdb.telemetry.Metrics(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 2.0, metrics[0].Loss)
}

func TestTelemetryLogsPreserveArrivalOrder(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	for i := 0; i < 4; i++ {
		require.NoError(t, tdb.telemetry.AppendLog(ctx, job.ID, models.LogEntry{
			Message: fmt.Sprintf("line %d", i),
		}))
	}

	logs, err := tdb.telemetry.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	for i, entry := range logs {
		assert.Equal(t, fmt.Sprintf("line %d", i), entry.Message)
		assert.Equal(t, models.LogLevelInfo, entry.Level)
	}
}

func TestTelemetryLogCapPrunesOldest(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()
	job := createTestJob(t, tdb.jobs)

	capped := NewTelemetryRepository(tdb.db, 5)
	for i := 0; i < 8; i++ {
		require.NoError(t, capped.AppendLog(ctx, job.ID, models.LogEntry{
			Message: fmt.Sprintf("line %d", i),
		}))
	}

	logs, err := capped.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 5)
	assert.Equal(t, "line 3", logs[0].Message)
	assert.Equal(t, "line 7", logs[4].Message)
}

func TestDatasetGetByRef(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()

	ds, err := tdb.datasets.Create(ctx, models.Dataset{
		Name:    "dialogsum",
		Format:  models.DatasetFormatJSONL,
		Samples: 460,
	})
	require.NoError(t, err)

	byID, err := tdb.datasets.GetByRef(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, byID.ID)

	byName, err := tdb.datasets.GetByRef(ctx, "dialogsum")
	require.NoError(t, err)
	assert.Equal(t, ds.ID, byName.ID)

	_, err = tdb.datasets.GetByRef(ctx, "unknown")
	assert.True(t, apperr.IsNotFound(err))
}

func TestModelGetByRef(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()

	m, err := tdb.baseModels.Create(ctx, models.BaseModel{
		Name:   "meta-llama/Llama-2-7b-hf",
		SizeGB: 13.5,
	})
	require.NoError(t, err)

	byName, err := tdb.baseModels.GetByRef(ctx, "meta-llama/Llama-2-7b-hf")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byName.ID)
}

func TestNotificationMarkRead(t *testing.T) {
	tdb := openTestDB(t)
	ctx := context.Background()

	notif, err := tdb.notifications.Create(ctx, CreateNotificationParams{
		Event:    models.NotificationEventJobCompleted,
		Severity: models.NotificationSeverityInfo,
		Title:    "Training completed: llama2 summarizer",
		Metadata: map[string]interface{}{"job_id": "abc"},
	})
	require.NoError(t, err)
	assert.Nil(t, notif.ReadAt)

	read, err := tdb.notifications.MarkRead(ctx, notif.ID)
	require.NoError(t, err)
	assert.NotNil(t, read.ReadAt)

	_, err = tdb.notifications.MarkRead(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}
