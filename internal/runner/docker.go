package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/config"
	"github.com/tunekit/tunekit-api/internal/models"
)

// engineJobSpec is the config document bind-mounted into the training
// container. Field names are part of the engine image contract.
type engineJobSpec struct {
	JobID   string                `json:"job_id"`
	Model   string                `json:"model"`
	Dataset string                `json:"dataset"`
	Config  models.TrainingConfig `json:"config"`
}

// DockerRunner executes training jobs as containers of the configured
// engine image. Control signals map onto the container lifecycle:
// pause/unpause freeze the training process wholesale, stop kills it.
type DockerRunner struct {
	cli        *client.Client
	cfg        config.RunnerConfig
	signingKey []byte
	logger     zerolog.Logger
}

func NewDockerRunner(cli *client.Client, cfg config.RunnerConfig, signingKey []byte, logger zerolog.Logger) *DockerRunner {
	return &DockerRunner{
		cli:        cli,
		cfg:        cfg,
		signingKey: signingKey,
		logger:     logger.With().Str("component", "docker_runner").Logger(),
	}
}

func (r *DockerRunner) Launch(ctx context.Context, job models.Job, reporter Reporter) (Handle, error) {
	spec := engineJobSpec{
		JobID:   job.ID,
		Model:   job.Model,
		Dataset: job.Dataset,
		Config:  job.Config,
	}
	specBytes, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrap(err, "marshal engine job spec")
	}

	jobDir := filepath.Join(r.cfg.DataDir, "jobs", job.ID)
	if err := os.MkdirAll(filepath.Join(jobDir, "checkpoints"), 0o755); err != nil {
		return "", errors.Wrap(err, "create job data directory")
	}

	specPath := filepath.Join(jobDir, "job.json")
	if err := os.WriteFile(specPath, specBytes, 0o644); err != nil {
		return "", errors.Wrapf(err, "write engine job spec %s", specPath)
	}

	authToken, err := GenerateJobToken(job.ID, r.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "generate job auth token")
	}
	callbackURL := fmt.Sprintf("%s/api/internal/jobs/%s/report",
		strings.TrimRight(r.cfg.CallbackBaseURL, "/"), job.ID)

	containerConfig := &container.Config{
		Image: r.cfg.EngineImage,
		Cmd:   []string{"train", "--config", "/app/job.json"},
		Env: []string{
			"REPORT_CALLBACK_URL=" + callbackURL,
			"AUTH_TOKEN=" + authToken,
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: specPath, Target: "/app/job.json"},
			{Type: mount.TypeBind, Source: filepath.Join(jobDir, "checkpoints"), Target: "/app/checkpoints"},
		},
		Resources: container.Resources{
			CPUShares: r.cfg.ContainerCPULimit,
			Memory:    r.cfg.ContainerMemoryLimit,
		},
	}
	if r.cfg.GPUs != 0 {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{
			{Driver: "nvidia", Count: r.cfg.GPUs, Capabilities: [][]string{{"gpu"}}},
		}
	}

	if err := r.ensureImage(ctx); err != nil {
		return "", err
	}

	resp, err := r.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", errors.Wrap(err, "create training container")
	}
	containerID := resp.ID

	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", errors.Wrap(err, "start training container")
	}
	r.logger.Info().Str("job_id", job.ID).Str("container_id", containerID).Msg("Training container started")

	// Log streaming and exit watching outlive the launch request.
	go r.streamLogs(context.Background(), containerID, job.ID, reporter)
	go r.watchExit(context.Background(), containerID, job.ID, reporter)

	return Handle(containerID), nil
}

func (r *DockerRunner) Pause(ctx context.Context, handle Handle) error {
	return errors.Wrap(r.cli.ContainerPause(ctx, string(handle)), "pause training container")
}

func (r *DockerRunner) Resume(ctx context.Context, handle Handle) error {
	return errors.Wrap(r.cli.ContainerUnpause(ctx, string(handle)), "resume training container")
}

func (r *DockerRunner) Stop(ctx context.Context, handle Handle) error {
	timeout := 15 // seconds before SIGKILL
	return errors.Wrap(
		r.cli.ContainerStop(ctx, string(handle), container.StopOptions{Timeout: &timeout}),
		"stop training container")
}

func (r *DockerRunner) ensureImage(ctx context.Context) error {
	if _, err := r.cli.ImageInspect(ctx, r.cfg.EngineImage); err == nil {
		return nil
	}

	r.logger.Info().Str("image", r.cfg.EngineImage).Msg("Engine image not found locally, pulling")
	reader, err := r.cli.ImagePull(ctx, r.cfg.EngineImage, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull engine image %s", r.cfg.EngineImage)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

// streamLogs relays container output into the job's log buffer, one entry
// per line. Engine stderr lines are recorded as warnings.
func (r *DockerRunner) streamLogs(ctx context.Context, containerID, jobID string, reporter Reporter) {
	logReader, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to attach to container logs")
		return
	}
	defer logReader.Close()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, logReader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()

	done := make(chan struct{}, 2)
	scan := func(reader io.Reader, level models.LogLevel) {
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "" {
				continue
			}
			reporter.ReportLog(jobID, models.LogEntry{Level: level, Message: line})
		}
		done <- struct{}{}
	}
	go scan(stdoutR, models.LogLevelInfo)
	go scan(stderrR, models.LogLevelWarning)
	<-done
	<-done
}

// watchExit posts the terminal status when the container stops. A clean
// exit normally races with the engine's own completion report; the
// controller treats the duplicate as a no-op.
func (r *DockerRunner) watchExit(ctx context.Context, containerID, jobID string, reporter Reporter) {
	waitCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		reporter.ReportFailed(jobID, fmt.Sprintf("container wait error: %v", err))
	case status := <-waitCh:
		if status.StatusCode == 0 {
			reporter.ReportCompleted(jobID)
			return
		}
		reporter.ReportFailed(jobID, fmt.Sprintf("training container exited with code %d", status.StatusCode))
	}
}
