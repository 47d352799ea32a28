// Package runner is the seam between the lifecycle API and the actual
// training execution engine. The engine (transformers/peft/bitsandbytes)
// runs out-of-process; implementations of Runner only launch it, forward
// control signals, and relay its reports.
package runner

import (
	"context"

	"github.com/tunekit/tunekit-api/internal/models"
)

// Handle identifies a launched training task for subsequent control
// signals. For the Docker runner it is the container id.
type Handle string

// Runner launches and signals training tasks. All methods return once the
// signal is accepted, not once the engine has acted on it.
type Runner interface {
	Launch(ctx context.Context, job models.Job, reporter Reporter) (Handle, error)
	Pause(ctx context.Context, handle Handle) error
	Resume(ctx context.Context, handle Handle) error
	Stop(ctx context.Context, handle Handle) error
}

// Reporter is the asynchronous channel through which a running task pushes
// progress, telemetry, checkpoints and its terminal status back into the
// lifecycle layer. The job controller implements it.
type Reporter interface {
	ReportProgress(jobID string, progress float64)
	ReportMetric(jobID string, point models.MetricPoint)
	ReportLog(jobID string, entry models.LogEntry)
	ReportCheckpoint(jobID string, checkpoint models.Checkpoint)
	ReportCompleted(jobID string)
	ReportFailed(jobID string, reason string)
}
