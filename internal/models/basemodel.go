package models

import "time"

// BaseModel is a downloaded foundation model available for fine-tuning.
// The download manager itself lives outside this service; this registry
// only records what is present on disk so that job start can verify the
// reference still resolves.
type BaseModel struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	SizeGB       float64   `json:"size_gb" db:"size_gb"`
	DownloadedAt time.Time `json:"downloaded_at" db:"downloaded_at"`
}
