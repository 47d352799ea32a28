package models

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusStopped, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job is a single fine-tuning run: a base model, a dataset and a set of
// QLoRA hyperparameters, plus the lifecycle state owned by the controller.
type Job struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Model        string         `json:"model" db:"model"`
	Dataset      string         `json:"dataset" db:"dataset"`
	Config       TrainingConfig `json:"config" db:"config"`
	Status       JobStatus      `json:"status" db:"status"`
	Progress     float64        `json:"progress" db:"progress"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Duration returns elapsed training time: zero before start, running time
// while active, the final wall-clock span once a terminal timestamp exists.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}

// TrainingConfig holds the QLoRA hyperparameters for a job. Fields are
// validated when the job is created or edited, never at start time.
type TrainingConfig struct {
	LearningRate   float64 `json:"learning_rate"`
	Epochs         int     `json:"epochs"`
	BatchSize      int     `json:"batch_size"`
	MaxSeqLength   int     `json:"max_seq_length"`
	GradAccumSteps int     `json:"gradient_accumulation_steps"`
	WarmupSteps    int     `json:"warmup_steps"`
	TotalSteps     int     `json:"total_steps"`
	LoraRank       int     `json:"lora_rank"`
	LoraAlpha      int     `json:"lora_alpha"`
	LoraDropout    float64 `json:"lora_dropout"`
	QuantBits      int     `json:"quant_bits"`
	QuantType      string  `json:"quant_type"`
}

// DefaultTrainingConfig mirrors the defaults baked into the training engine image.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate:   2e-4,
		Epochs:         3,
		BatchSize:      4,
		MaxSeqLength:   512,
		GradAccumSteps: 4,
		WarmupSteps:    100,
		TotalSteps:     1000,
		LoraRank:       8,
		LoraAlpha:      16,
		LoraDropout:    0.05,
		QuantBits:      4,
		QuantType:      "nf4",
	}
}

// ApplyDefaults fills zero-valued fields from DefaultTrainingConfig.
func (c *TrainingConfig) ApplyDefaults() {
	def := DefaultTrainingConfig()
	if c.LearningRate == 0 {
		c.LearningRate = def.LearningRate
	}
	if c.Epochs == 0 {
		c.Epochs = def.Epochs
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxSeqLength == 0 {
		c.MaxSeqLength = def.MaxSeqLength
	}
	if c.GradAccumSteps == 0 {
		c.GradAccumSteps = def.GradAccumSteps
	}
	if c.WarmupSteps == 0 {
		c.WarmupSteps = def.WarmupSteps
	}
	if c.TotalSteps == 0 {
		c.TotalSteps = def.TotalSteps
	}
	if c.LoraRank == 0 {
		c.LoraRank = def.LoraRank
	}
	if c.LoraAlpha == 0 {
		c.LoraAlpha = def.LoraAlpha
	}
	if c.LoraDropout == 0 {
		c.LoraDropout = def.LoraDropout
	}
	if c.QuantBits == 0 {
		c.QuantBits = def.QuantBits
	}
	if c.QuantType == "" {
		c.QuantType = def.QuantType
	}
}

// Validate checks every hyperparameter against its documented range.
func (c TrainingConfig) Validate() error {
	if c.LearningRate <= 0 || c.LearningRate >= 1 {
		return fmt.Errorf("learning_rate must be in (0, 1), got %g", c.LearningRate)
	}
	if c.Epochs < 1 || c.Epochs > 100 {
		return fmt.Errorf("epochs must be in [1, 100], got %d", c.Epochs)
	}
	if c.BatchSize < 1 || c.BatchSize > 128 {
		return fmt.Errorf("batch_size must be in [1, 128], got %d", c.BatchSize)
	}
	if c.MaxSeqLength < 8 || c.MaxSeqLength > 8192 {
		return fmt.Errorf("max_seq_length must be in [8, 8192], got %d", c.MaxSeqLength)
	}
	if c.GradAccumSteps < 1 || c.GradAccumSteps > 64 {
		return fmt.Errorf("gradient_accumulation_steps must be in [1, 64], got %d", c.GradAccumSteps)
	}
	if c.WarmupSteps < 0 {
		return fmt.Errorf("warmup_steps must be >= 0, got %d", c.WarmupSteps)
	}
	if c.TotalSteps < 1 || c.TotalSteps > 100000 {
		return fmt.Errorf("total_steps must be in [1, 100000], got %d", c.TotalSteps)
	}
	if c.LoraRank < 1 || c.LoraRank > 256 {
		return fmt.Errorf("lora_rank must be in [1, 256], got %d", c.LoraRank)
	}
	if c.LoraAlpha < 1 || c.LoraAlpha > 1024 {
		return fmt.Errorf("lora_alpha must be in [1, 1024], got %d", c.LoraAlpha)
	}
	if c.LoraDropout < 0 || c.LoraDropout >= 1 {
		return fmt.Errorf("lora_dropout must be in [0, 1), got %g", c.LoraDropout)
	}
	switch c.QuantBits {
	case 4, 8, 16:
	default:
		return fmt.Errorf("quant_bits must be one of 4, 8, 16, got %d", c.QuantBits)
	}
	switch c.QuantType {
	case "nf4", "fp4", "int8", "none":
	default:
		return fmt.Errorf("quant_type must be one of nf4, fp4, int8, none, got %q", c.QuantType)
	}
	return nil
}
