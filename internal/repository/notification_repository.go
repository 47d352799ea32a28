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

type CreateNotificationParams struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	notif := models.Notification{
		ID:        uuid.NewString(),
		EventType: params.Event,
		Severity:  params.Severity,
		Title:     params.Title,
		Message:   params.Message,
		CreatedAt: time.Now().UTC(),
	}

	var metadata interface{}
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "marshal notification metadata")
		}
		notif.Metadata = raw
		metadata = raw
	}

	query := r.db.Rebind(`
		INSERT INTO notifications (id, event_type, severity, title, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := r.db.ExecContext(ctx, query,
		notif.ID, notif.EventType, notif.Severity, notif.Title, notif.Message, metadata, notif.CreatedAt,
	); err != nil {
		return models.Notification{}, errors.Wrap(err, "insert notification")
	}
	return notif, nil
}

func (r *notificationRepository) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := r.db.Rebind(`
		SELECT id, event_type, severity, title, message, metadata, created_at, read_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?
	`)
	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	return notifications, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	query := r.db.Rebind(`UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL`)
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), notificationID); err != nil {
		return models.Notification{}, errors.Wrap(err, "mark notification read")
	}

	get := r.db.Rebind(`
		SELECT id, event_type, severity, title, message, metadata, created_at, read_at
		FROM notifications
		WHERE id = ?
	`)
	notif, err := scanNotification(r.db.QueryRowxContext(ctx, get, notificationID))
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return models.Notification{}, apperr.NotFound("notification %s not found", notificationID)
		}
		return models.Notification{}, err
	}
	return notif, nil
}

func scanNotification(scanner rowScanner) (models.Notification, error) {
	var (
		notif       models.Notification
		metadataRaw []byte
		readAt      sql.NullTime
	)
	if err := scanner.Scan(
		&notif.ID, &notif.EventType, &notif.Severity, &notif.Title,
		&notif.Message, &metadataRaw, &notif.CreatedAt, &readAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return models.Notification{}, err
		}
		return models.Notification{}, errors.Wrap(err, "scan notification")
	}
	if len(metadataRaw) > 0 {
		notif.Metadata = metadataRaw
	}
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}
	return notif, nil
}
