package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/models"
)

type DatasetRepository interface {
	Create(ctx context.Context, ds models.Dataset) (models.Dataset, error)
	Get(ctx context.Context, id string) (models.Dataset, error)
	// GetByRef resolves a job's dataset reference, which may be an id or a name.
	GetByRef(ctx context.Context, ref string) (models.Dataset, error)
	List(ctx context.Context) ([]models.Dataset, error)
	Delete(ctx context.Context, id string) error
}

type datasetRepository struct {
	db *sqlx.DB
}

func NewDatasetRepository(db *sqlx.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

func (r *datasetRepository) Create(ctx context.Context, ds models.Dataset) (models.Dataset, error) {
	ds.ID = uuid.NewString()
	ds.CreatedAt = time.Now().UTC()

	query := r.db.Rebind(`
		INSERT INTO datasets (id, name, format, samples, size_bytes, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := r.db.ExecContext(ctx, query,
		ds.ID, ds.Name, ds.Format, ds.Samples, ds.SizeBytes, ds.FilePath, ds.CreatedAt,
	); err != nil {
		return models.Dataset{}, errors.Wrap(err, "insert dataset")
	}
	return ds, nil
}

func (r *datasetRepository) Get(ctx context.Context, id string) (models.Dataset, error) {
	query := r.db.Rebind(`
		SELECT id, name, format, samples, size_bytes, file_path, created_at
		FROM datasets
		WHERE id = ?
	`)
	return r.scanOne(r.db.QueryRowxContext(ctx, query, id), id)
}

func (r *datasetRepository) GetByRef(ctx context.Context, ref string) (models.Dataset, error) {
	query := r.db.Rebind(`
		SELECT id, name, format, samples, size_bytes, file_path, created_at
		FROM datasets
		WHERE id = ? OR name = ?
		LIMIT 1
	`)
	return r.scanOne(r.db.QueryRowxContext(ctx, query, ref, ref), ref)
}

func (r *datasetRepository) List(ctx context.Context) ([]models.Dataset, error) {
	query := `
		SELECT id, name, format, samples, size_bytes, file_path, created_at
		FROM datasets
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list datasets")
	}
	defer rows.Close()

	datasets := []models.Dataset{}
	for rows.Next() {
		var ds models.Dataset
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Format, &ds.Samples, &ds.SizeBytes, &ds.FilePath, &ds.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan dataset")
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}

func (r *datasetRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM datasets WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "delete dataset")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete dataset rows affected")
	}
	if affected == 0 {
		return apperr.NotFound("dataset %s not found", id)
	}
	return nil
}

func (r *datasetRepository) scanOne(row rowScanner, ref string) (models.Dataset, error) {
	var ds models.Dataset
	err := row.Scan(&ds.ID, &ds.Name, &ds.Format, &ds.Samples, &ds.SizeBytes, &ds.FilePath, &ds.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Dataset{}, apperr.NotFound("dataset %s not found", ref)
		}
		return models.Dataset{}, errors.Wrap(err, "scan dataset")
	}
	return ds, nil
}
