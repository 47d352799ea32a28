package repository

import (
	"context"
	"database/sql"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
)

type CheckpointRepository interface {
	// Append records a checkpoint. The step must be strictly greater than
	// every step already recorded for the job.
	Append(ctx context.Context, cp models.Checkpoint) (models.Checkpoint, error)
	List(ctx context.Context, jobID string) ([]models.Checkpoint, error)
	Get(ctx context.Context, jobID, checkpointID string) (models.Checkpoint, error)
	Delete(ctx context.Context, jobID, checkpointID string) error
	// Open returns the checkpoint metadata plus a reader over the artifact
	// file. A missing file is NotFound, distinct from missing metadata.
	Open(ctx context.Context, jobID, checkpointID string) (models.Checkpoint, io.ReadCloser, error)
}

type checkpointRepository struct {
	db *sqlx.DB
}

func NewCheckpointRepository(db *sqlx.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

func (r *checkpointRepository) Append(ctx context.Context, cp models.Checkpoint) (models.Checkpoint, error) {
	cp.ID = uuid.NewString()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	// The guarded insert enforces strictly increasing steps without a
	// read-modify-write race.
	query := r.db.Rebind(`
		INSERT INTO checkpoints (id, job_id, epoch, step, loss, file_path, file_size_mb, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM checkpoints WHERE job_id = ? AND step >= ?
		)
	`)
	res, err := r.db.ExecContext(ctx, query,
		cp.ID, cp.JobID, cp.Epoch, cp.Step, cp.Loss, cp.FilePath, cp.FileSizeMB, cp.CreatedAt,
		cp.JobID, cp.Step,
	)
	if err != nil {
		return models.Checkpoint{}, errors.Wrap(err, "insert checkpoint")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Checkpoint{}, errors.Wrap(err, "insert checkpoint rows affected")
	}
	if affected == 0 {
		return models.Checkpoint{}, apperr.InvalidState(
			"checkpoint step %d is not greater than the latest step recorded for job %s", cp.Step, cp.JobID)
	}
	return cp, nil
}

func (r *checkpointRepository) List(ctx context.Context, jobID string) ([]models.Checkpoint, error) {
	query := r.db.Rebind(`
		SELECT id, job_id, epoch, step, loss, file_path, file_size_mb, created_at
		FROM checkpoints
		WHERE job_id = ?
		ORDER BY step ASC
	`)
	rows, err := r.db.QueryxContext(ctx, query, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	defer rows.Close()

	checkpoints := []models.Checkpoint{}
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(
			&cp.ID, &cp.JobID, &cp.Epoch, &cp.Step, &cp.Loss,
			&cp.FilePath, &cp.FileSizeMB, &cp.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan checkpoint")
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func (r *checkpointRepository) Get(ctx context.Context, jobID, checkpointID string) (models.Checkpoint, error) {
	query := r.db.Rebind(`
		SELECT id, job_id, epoch, step, loss, file_path, file_size_mb, created_at
		FROM checkpoints
		WHERE id = ? AND job_id = ?
	`)
	var cp models.Checkpoint
	err := r.db.QueryRowxContext(ctx, query, checkpointID, jobID).Scan(
		&cp.ID, &cp.JobID, &cp.Epoch, &cp.Step, &cp.Loss,
		&cp.FilePath, &cp.FileSizeMB, &cp.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Checkpoint{}, apperr.NotFound("checkpoint %s not found for job %s", checkpointID, jobID)
		}
		return models.Checkpoint{}, errors.Wrap(err, "get checkpoint")
	}
	return cp, nil
}

func (r *checkpointRepository) Delete(ctx context.Context, jobID, checkpointID string) error {
	query := r.db.Rebind(`DELETE FROM checkpoints WHERE id = ? AND job_id = ?`)
	res, err := r.db.ExecContext(ctx, query, checkpointID, jobID)
	if err != nil {
		return errors.Wrap(err, "delete checkpoint")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete checkpoint rows affected")
	}
	if affected == 0 {
		return apperr.NotFound("checkpoint %s not found for job %s", checkpointID, jobID)
	}
	return nil
}

func (r *checkpointRepository) Open(ctx context.Context, jobID, checkpointID string) (models.Checkpoint, io.ReadCloser, error) {
	cp, err := r.Get(ctx, jobID, checkpointID)
	if err != nil {
		return models.Checkpoint{}, nil, err
	}

	file, err := os.Open(cp.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Checkpoint{}, nil, apperr.NotFound(
				"checkpoint artifact for step %d is missing on disk", cp.Step)
		}
		return models.Checkpoint{}, nil, errors.Wrapf(err, "open checkpoint artifact %s", cp.FilePath)
	}
	return cp, file, nil
}
