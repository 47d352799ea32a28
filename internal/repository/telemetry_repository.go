package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tunekit/tunekit-api/internal/models"
)

// TelemetryRepository is the append-only buffer behind the metrics and log
// polling endpoints. Appends are one insert per entry, so readers never see
// a torn record; reads return the full history and are idempotent.
type TelemetryRepository interface {
	AppendMetric(ctx context.Context, jobID string, point models.MetricPoint) error
	AppendLog(ctx context.Context, jobID string, entry models.LogEntry) error
	Metrics(ctx context.Context, jobID string) ([]models.MetricPoint, error)
	Logs(ctx context.Context, jobID string) ([]models.LogEntry, error)
}

type telemetryRepository struct {
	db *sqlx.DB
	// logCap bounds per-job log retention; oldest entries are pruned past it.
	logCap int
}

func NewTelemetryRepository(db *sqlx.DB, logCap int) TelemetryRepository {
	return &telemetryRepository{db: db, logCap: logCap}
}

func (r *telemetryRepository) AppendMetric(ctx context.Context, jobID string, point models.MetricPoint) error {
	if point.RecordedAt.IsZero() {
		point.RecordedAt = time.Now().UTC()
	}
	// Duplicate delivery of a step is a no-op, so the runner can retry its
	// reports without tripping the primary key.
	query := r.db.Rebind(`
		INSERT INTO job_metrics (job_id, step, epoch, loss, learning_rate, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, step) DO NOTHING
	`)
	_, err := r.db.ExecContext(ctx, query,
		jobID, point.Step, point.Epoch, point.Loss, point.LearningRate, point.RecordedAt)
	return errors.Wrap(err, "insert metric point")
}

func (r *telemetryRepository) AppendLog(ctx context.Context, jobID string, entry models.LogEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}

	query := r.db.Rebind(`
		INSERT INTO job_logs (job_id, seq, level, message, recorded_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM job_logs WHERE job_id = ?), ?, ?, ?)
	`)
	if _, err := r.db.ExecContext(ctx, query,
		jobID, jobID, entry.Level, entry.Message, entry.RecordedAt); err != nil {
		return errors.Wrap(err, "insert log entry")
	}

	if r.logCap > 0 {
		prune := r.db.Rebind(`
			DELETE FROM job_logs
			WHERE job_id = ?
			  AND seq <= (SELECT MAX(seq) FROM job_logs WHERE job_id = ?) - ?
		`)
		if _, err := r.db.ExecContext(ctx, prune, jobID, jobID, r.logCap); err != nil {
			return errors.Wrap(err, "prune log entries")
		}
	}
	return nil
}

func (r *telemetryRepository) Metrics(ctx context.Context, jobID string) ([]models.MetricPoint, error) {
	query := r.db.Rebind(`
		SELECT step, epoch, loss, learning_rate, recorded_at
		FROM job_metrics
		WHERE job_id = ?
		ORDER BY step ASC
	`)
	rows, err := r.db.QueryxContext(ctx, query, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list metrics")
	}
	defer rows.Close()

	points := []models.MetricPoint{}
	for rows.Next() {
		var p models.MetricPoint
		if err := rows.Scan(&p.Step, &p.Epoch, &p.Loss, &p.LearningRate, &p.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan metric point")
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *telemetryRepository) Logs(ctx context.Context, jobID string) ([]models.LogEntry, error) {
	query := r.db.Rebind(`
		SELECT level, message, recorded_at
		FROM job_logs
		WHERE job_id = ?
		ORDER BY seq ASC
	`)
	rows, err := r.db.QueryxContext(ctx, query, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "list logs")
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.Level, &e.Message, &e.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan log entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
