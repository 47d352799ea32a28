package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
)

// JobUpdate carries the fields an edit request may change while a job is
// still pending. Nil fields are left untouched.
type JobUpdate struct {
	Name    *string
	Model   *string
	Dataset *string
	Config  *models.TrainingConfig
}

type JobRepository interface {
	Create(ctx context.Context, job models.Job) (models.Job, error)
	Get(ctx context.Context, id string) (models.Job, error)
	List(ctx context.Context) ([]models.Job, error)
	Update(ctx context.Context, id string, update JobUpdate) (models.Job, error)
	UpdateStatus(ctx context.Context, id string, status models.JobStatus, errorMessage *string) (models.Job, error)
	// UpdateProgress is a no-op when the new value is below the stored one,
	// keeping progress monotone regardless of report ordering.
	UpdateProgress(ctx context.Context, id string, progress float64) error
	Delete(ctx context.Context, id string) error
}

type jobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job models.Job) (models.Job, error) {
	// Status and progress are owned by the controller; whatever the caller
	// sent is discarded.
	job.ID = uuid.NewString()
	job.Status = models.JobStatusPending
	job.Progress = 0
	job.ErrorMessage = nil
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return models.Job{}, errors.Wrap(err, "marshal training config")
	}

	query := r.db.Rebind(`
		INSERT INTO jobs (id, name, model, dataset, config, status, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := r.db.ExecContext(ctx, query,
		job.ID, job.Name, job.Model, job.Dataset, configJSON,
		job.Status, job.Progress, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return models.Job{}, errors.Wrap(err, "insert job")
	}
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (models.Job, error) {
	query := r.db.Rebind(`
		SELECT id, name, model, dataset, config, status, progress, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM jobs
		WHERE id = ?
	`)
	return scanJob(r.db.QueryRowxContext(ctx, query, id), id)
}

func (r *jobRepository) List(ctx context.Context) ([]models.Job, error) {
	query := `
		SELECT id, name, model, dataset, config, status, progress, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM jobs
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) Update(ctx context.Context, id string, update JobUpdate) (models.Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return models.Job{}, err
	}

	if update.Name != nil {
		job.Name = *update.Name
	}
	if update.Model != nil {
		job.Model = *update.Model
	}
	if update.Dataset != nil {
		job.Dataset = *update.Dataset
	}
	if update.Config != nil {
		job.Config = *update.Config
	}
	job.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return models.Job{}, errors.Wrap(err, "marshal training config")
	}

	query := r.db.Rebind(`
		UPDATE jobs
		SET name = ?, model = ?, dataset = ?, config = ?, updated_at = ?
		WHERE id = ?
	`)
	if _, err := r.db.ExecContext(ctx, query,
		job.Name, job.Model, job.Dataset, configJSON, job.UpdatedAt, id,
	); err != nil {
		return models.Job{}, errors.Wrap(err, "update job")
	}
	return job, nil
}

func (r *jobRepository) UpdateStatus(ctx context.Context, id string, status models.JobStatus, errorMessage *string) (models.Job, error) {
	now := time.Now().UTC()

	query := r.db.Rebind(`
		UPDATE jobs
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query, status, errorMessage, now, id)
	if err != nil {
		return models.Job{}, errors.Wrap(err, "update job status")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return models.Job{}, apperr.NotFound("job %s not found", id)
	}

	// started_at is set once on the first transition to running; resuming
	// from paused keeps the original value.
	switch status {
	case models.JobStatusRunning:
		startQuery := r.db.Rebind(`UPDATE jobs SET started_at = ? WHERE id = ? AND started_at IS NULL`)
		if _, err := r.db.ExecContext(ctx, startQuery, now, id); err != nil {
			return models.Job{}, errors.Wrap(err, "set job start time")
		}
	case models.JobStatusStopped, models.JobStatusCompleted, models.JobStatusFailed:
		endQuery := r.db.Rebind(`UPDATE jobs SET completed_at = ? WHERE id = ? AND completed_at IS NULL`)
		if _, err := r.db.ExecContext(ctx, endQuery, now, id); err != nil {
			return models.Job{}, errors.Wrap(err, "set job completion time")
		}
	}

	return r.Get(ctx, id)
}

func (r *jobRepository) UpdateProgress(ctx context.Context, id string, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	query := r.db.Rebind(`
		UPDATE jobs
		SET progress = ?, updated_at = ?
		WHERE id = ? AND progress <= ?
	`)
	_, err := r.db.ExecContext(ctx, query, progress, time.Now().UTC(), id, progress)
	return errors.Wrap(err, "update job progress")
}

func (r *jobRepository) Delete(ctx context.Context, id string) error {
	// Checkpoints, metrics and logs cascade via foreign keys.
	query := r.db.Rebind(`DELETE FROM jobs WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "delete job")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete job rows affected")
	}
	if affected == 0 {
		return apperr.NotFound("job %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner, id string) (models.Job, error) {
	var (
		job         models.Job
		configJSON  []byte
		errMsg      sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID, &job.Name, &job.Model, &job.Dataset, &configJSON,
		&job.Status, &job.Progress, &errMsg,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return models.Job{}, apperr.NotFound("job %s not found", id)
		}
		return models.Job{}, errors.Wrap(err, "scan job")
	}

	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return models.Job{}, errors.Wrap(err, "unmarshal training config")
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}
