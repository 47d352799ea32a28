package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventJobStarted      NotificationEvent = "job_started"
	NotificationEventJobPaused       NotificationEvent = "job_paused"
	NotificationEventJobResumed      NotificationEvent = "job_resumed"
	NotificationEventJobStopped      NotificationEvent = "job_stopped"
	NotificationEventJobCompleted    NotificationEvent = "job_completed"
	NotificationEventJobFailed       NotificationEvent = "job_failed"
	NotificationEventCheckpointSaved NotificationEvent = "checkpoint_saved"
)

// Notification is a UI-facing event generated by job lifecycle changes.
type Notification struct {
	ID        string               `json:"id" db:"id"`
	EventType NotificationEvent    `json:"event_type" db:"event_type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
	ReadAt    *time.Time           `json:"read_at,omitempty" db:"read_at"`
}
