package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/controller"
	"github.com/tunekit/tunekit-api/internal/models"
	"github.com/tunekit/tunekit-api/internal/repository"
)

type JobHandler struct {
	controller  *controller.Controller
	jobs        repository.JobRepository
	checkpoints repository.CheckpointRepository
	telemetry   repository.TelemetryRepository
	logger      zerolog.Logger
}

func NewJobHandler(
	ctrl *controller.Controller,
	jobs repository.JobRepository,
	checkpoints repository.CheckpointRepository,
	telemetry repository.TelemetryRepository,
	logger zerolog.Logger,
) *JobHandler {
	return &JobHandler{
		controller:  ctrl,
		jobs:        jobs,
		checkpoints: checkpoints,
		telemetry:   telemetry,
		logger:      logger.With().Str("handler", "job").Logger(),
	}
}

type jobPayload struct {
	Name    string                 `json:"name"`
	Model   string                 `json:"model"`
	Dataset string                 `json:"dataset"`
	Config  *models.TrainingConfig `json:"config"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload jobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}

	params := controller.CreateJobParams{
		Name:    payload.Name,
		Model:   payload.Model,
		Dataset: payload.Dataset,
	}
	if payload.Config != nil {
		params.Config = *payload.Config
	}

	job, err := h.controller.CreateJob(r.Context(), params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// jobDetail augments the stored job with the derived training duration.
type jobDetail struct {
	models.Job
	DurationSeconds float64 `json:"duration_seconds"`
}

func (h *JobHandler) Info(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), mux.Vars(r)["jobID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDetail{Job: job, DurationSeconds: job.Duration().Seconds()})
}

func (h *JobHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    *string                `json:"name"`
		Model   *string                `json:"model"`
		Dataset *string                `json:"dataset"`
		Config  *models.TrainingConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}

	job, err := h.controller.EditJob(r.Context(), mux.Vars(r)["jobID"], repository.JobUpdate{
		Name:    payload.Name,
		Model:   payload.Model,
		Dataset: payload.Dataset,
		Config:  payload.Config,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.controller.Start)
}

func (h *JobHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.controller.Pause)
}

func (h *JobHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.controller.Stop)
}

func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	job, err := h.controller.Retry(r.Context(), mux.Vars(r)["jobID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Delete(r.Context(), mux.Vars(r)["jobID"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Job deleted successfully",
	})
}

func (h *JobHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	history, err := h.telemetry.Metrics(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	snapshot := models.MetricsSnapshot{JobID: jobID, LossHistory: history}
	if len(history) > 0 {
		latest := history[len(history)-1]
		snapshot.Current = &latest
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	logs, err := h.telemetry.Logs(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"logs":   logs,
		"total":  len(logs),
	})
}

func (h *JobHandler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	checkpoints, err := h.checkpoints.List(r.Context(), jobID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":      jobID,
		"checkpoints": checkpoints,
		"total":       len(checkpoints),
	})
}

func (h *JobHandler) DeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["jobID"]
	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkpoints.Delete(r.Context(), jobID, vars["checkpointID"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Checkpoint deleted successfully",
	})
}

func (h *JobHandler) DownloadCheckpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["jobID"]
	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	cp, artifact, err := h.checkpoints.Open(r.Context(), jobID, vars["checkpointID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer artifact.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s-checkpoint-%d"`, jobID, cp.Step))
	if _, err := io.Copy(w, artifact); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("checkpoint download aborted")
	}
}

func (h *JobHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, jobID string) (models.Job, error),
) {
	job, err := fn(r.Context(), mux.Vars(r)["jobID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
