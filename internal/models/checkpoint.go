package models

import "time"

// Checkpoint is a persisted snapshot of adapter weights at one training step.
// Records are immutable after creation and owned by their job; steps are
// strictly increasing within a job.
type Checkpoint struct {
	ID         string    `json:"id" db:"id"`
	JobID      string    `json:"job_id" db:"job_id"`
	Epoch      int       `json:"epoch" db:"epoch"`
	Step       int       `json:"step" db:"step"`
	Loss       float64   `json:"loss" db:"loss"`
	FilePath   string    `json:"file_path" db:"file_path"`
	FileSizeMB float64   `json:"file_size_mb" db:"file_size_mb"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
