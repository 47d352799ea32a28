package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/models"
	"github.com/tunekit/tunekit-api/internal/repository"
)

type Event struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Service records job lifecycle events for the UI's notification feed.
type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyJobStarted(ctx context.Context, jobID, jobName string)
	NotifyJobPaused(ctx context.Context, jobID, jobName string)
	NotifyJobResumed(ctx context.Context, jobID, jobName string)
	NotifyJobStopped(ctx context.Context, jobID, jobName string)
	NotifyJobCompleted(ctx context.Context, jobID, jobName string)
	NotifyJobFailed(ctx context.Context, jobID, jobName, reason string)
	NotifyCheckpointSaved(ctx context.Context, jobID, jobName string, step int)
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo   repository.NotificationRepository
	logger zerolog.Logger
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}

	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	return notif, nil
}

func (s *service) NotifyJobStarted(ctx context.Context, jobID, jobName string) {
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventJobStarted,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Training started: %s", jobName),
		Message:  fmt.Sprintf("Job %s is now training.", jobName),
		Metadata: map[string]interface{}{"job_id": jobID},
	})
}

func (s *service) NotifyJobPaused(ctx context.Context, jobID, jobName string) {
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventJobPaused,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Training paused: %s", jobName),
		Message:  fmt.Sprintf("Job %s is paused and can be resumed.", jobName),
		Metadata: map[string]interface{}{"job_id": jobID},
	})
}

func (s *service) NotifyJobResumed(ctx context.Context, jobID, jobName string) {
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventJobResumed,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Training resumed: %s", jobName),
		Message:  fmt.Sprintf("Job %s picked up where it paused.", jobName),
		Metadata: map[string]interface{}{"job_id": jobID},
	})
}

func (s *service) NotifyJobStopped(ctx context.Context, jobID, jobName string) {
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventJobStopped,
		Severity: models.NotificationSeverityWarning,
		Title:    fmt.Sprintf("Training stopped: %s", jobName),
		Message:  fmt.Sprintf("Job %s was stopped before completion.", jobName),
		Metadata: map[string]interface{}{"job_id": jobID},
	})
}

func (s *service) NotifyJobCompleted(ctx context.Context, jobID, jobName string) {
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventJobCompleted,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Training completed: %s", jobName),
		Message:  fmt.Sprintf("Job %s finished successfully.", jobName),
		Metadata: map[string]interface{}{"job_id": jobID},
	})
}

func (s *service) NotifyJobFailed(ctx context.Context, jobID, jobName, reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventJobFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Training failed: %s", jobName),
		Message:  fmt.Sprintf("Job %s failed: %s", jobName, reason),
		Metadata: map[string]interface{}{"job_id": jobID, "reason": reason},
	})
}

func (s *service) NotifyCheckpointSaved(ctx context.Context, jobID, jobName string, step int) {
	s.publishQuiet(ctx, Event{
		Event:    models.NotificationEventCheckpointSaved,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Checkpoint saved: %s", jobName),
		Message:  fmt.Sprintf("Job %s saved a checkpoint at step %d.", jobName, step),
		Metadata: map[string]interface{}{"job_id": jobID, "step": step},
	})
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func (s *service) publishQuiet(ctx context.Context, evt Event) {
	if _, err := s.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("dropping notification")
	}
}
