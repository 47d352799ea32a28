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

type ModelRepository interface {
	Create(ctx context.Context, m models.BaseModel) (models.BaseModel, error)
	Get(ctx context.Context, id string) (models.BaseModel, error)
	// GetByRef resolves a job's model reference, which may be an id or a
	// name such as "meta-llama/Llama-2-7b-hf".
	GetByRef(ctx context.Context, ref string) (models.BaseModel, error)
	List(ctx context.Context) ([]models.BaseModel, error)
	Delete(ctx context.Context, id string) error
}

type modelRepository struct {
	db *sqlx.DB
}

func NewModelRepository(db *sqlx.DB) ModelRepository {
	return &modelRepository{db: db}
}

func (r *modelRepository) Create(ctx context.Context, m models.BaseModel) (models.BaseModel, error) {
	m.ID = uuid.NewString()
	if m.DownloadedAt.IsZero() {
		m.DownloadedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO base_models (id, name, size_gb, downloaded_at)
		VALUES (?, ?, ?, ?)
	`)
	if _, err := r.db.ExecContext(ctx, query, m.ID, m.Name, m.SizeGB, m.DownloadedAt); err != nil {
		return models.BaseModel{}, errors.Wrap(err, "insert base model")
	}
	return m, nil
}

func (r *modelRepository) Get(ctx context.Context, id string) (models.BaseModel, error) {
	query := r.db.Rebind(`
		SELECT id, name, size_gb, downloaded_at FROM base_models WHERE id = ?
	`)
	return r.scanOne(r.db.QueryRowxContext(ctx, query, id), id)
}

func (r *modelRepository) GetByRef(ctx context.Context, ref string) (models.BaseModel, error) {
	query := r.db.Rebind(`
		SELECT id, name, size_gb, downloaded_at
		FROM base_models
		WHERE id = ? OR name = ?
		LIMIT 1
	`)
	return r.scanOne(r.db.QueryRowxContext(ctx, query, ref, ref), ref)
}

func (r *modelRepository) List(ctx context.Context) ([]models.BaseModel, error) {
	query := `
		SELECT id, name, size_gb, downloaded_at
		FROM base_models
		ORDER BY downloaded_at ASC, id ASC
	`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list base models")
	}
	defer rows.Close()

	result := []models.BaseModel{}
	for rows.Next() {
		var m models.BaseModel
		if err := rows.Scan(&m.ID, &m.Name, &m.SizeGB, &m.DownloadedAt); err != nil {
			return nil, errors.Wrap(err, "scan base model")
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *modelRepository) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM base_models WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "delete base model")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete base model rows affected")
	}
	if affected == 0 {
		return apperr.NotFound("model %s not found", id)
	}
	return nil
}

func (r *modelRepository) scanOne(row rowScanner, ref string) (models.BaseModel, error) {
	var m models.BaseModel
	err := row.Scan(&m.ID, &m.Name, &m.SizeGB, &m.DownloadedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.BaseModel{}, apperr.NotFound("model %s not found", ref)
		}
		return models.BaseModel{}, errors.Wrap(err, "scan base model")
	}
	return m, nil
}
