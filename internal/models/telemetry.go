package models

import "time"

// MetricPoint is one training sample reported by the runner. Points are
// append-only and ordered by step; the newest point defines the job's
// current metrics.
type MetricPoint struct {
	Step         int       `json:"step" db:"step"`
	Epoch        int       `json:"epoch" db:"epoch"`
	Loss         float64   `json:"loss" db:"loss"`
	LearningRate float64   `json:"learning_rate" db:"learning_rate"`
	RecordedAt   time.Time `json:"recorded_at" db:"recorded_at"`
}

// MetricsSnapshot is the polling view over a job's metric history.
type MetricsSnapshot struct {
	JobID       string        `json:"job_id"`
	LossHistory []MetricPoint `json:"loss_history"`
	Current     *MetricPoint  `json:"current_metrics"`
}

type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// LogEntry is one training log line in arrival order.
type LogEntry struct {
	RecordedAt time.Time `json:"timestamp" db:"recorded_at"`
	Level      LogLevel  `json:"level" db:"level"`
	Message    string    `json:"message" db:"message"`
}
