package models

import "time"

type DatasetFormat string

const (
	DatasetFormatJSON  DatasetFormat = "json"
	DatasetFormatJSONL DatasetFormat = "jsonl"
	DatasetFormatCSV   DatasetFormat = "csv"
)

// Dataset is an uploaded training corpus. Samples always equals the parsed
// record count for the declared format.
type Dataset struct {
	ID        string        `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Format    DatasetFormat `json:"format" db:"format"`
	Samples   int           `json:"samples" db:"samples"`
	SizeBytes int64         `json:"size_bytes" db:"size_bytes"`
	FilePath  string        `json:"file_path" db:"file_path"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}
