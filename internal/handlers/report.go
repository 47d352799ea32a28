package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/controller"
	"github.com/tunekit/tunekit-api/internal/middleware"
	"github.com/tunekit/tunekit-api/internal/models"
)

// ReportHandler is the HTTP side of the runner's reporting channel. The
// training container posts one event per request, authenticated by the
// job-scoped token minted at launch.
type ReportHandler struct {
	controller *controller.Controller
	logger     zerolog.Logger
}

func NewReportHandler(ctrl *controller.Controller, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		controller: ctrl,
		logger:     logger.With().Str("handler", "report").Logger(),
	}
}

type reportPayload struct {
	Type       string              `json:"type"`
	Progress   *float64            `json:"progress,omitempty"`
	Metric     *models.MetricPoint `json:"metric,omitempty"`
	Log        *models.LogEntry    `json:"log,omitempty"`
	Checkpoint *models.Checkpoint  `json:"checkpoint,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

func (h *ReportHandler) Report(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]

	// The token subject must match the job being reported on; a task can
	// never write into another job's buffers.
	if tokenJobID, ok := middleware.JobIDFromRequest(r); !ok || tokenJobID != jobID {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "job token does not match job id"})
		return
	}

	var payload reportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid report payload"})
		return
	}

	var err error
	switch payload.Type {
	case "progress":
		if payload.Progress == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "progress report missing value"})
			return
		}
		err = h.controller.HandleProgress(r.Context(), jobID, *payload.Progress)
	case "metric":
		if payload.Metric == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "metric report missing point"})
			return
		}
		err = h.controller.HandleMetric(r.Context(), jobID, *payload.Metric)
	case "log":
		if payload.Log == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "log report missing entry"})
			return
		}
		err = h.controller.HandleLog(r.Context(), jobID, *payload.Log)
	case "checkpoint":
		if payload.Checkpoint == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "checkpoint report missing record"})
			return
		}
		_, err = h.controller.HandleCheckpoint(r.Context(), jobID, *payload.Checkpoint)
	case "completed":
		err = h.controller.HandleCompleted(r.Context(), jobID)
	case "failed":
		err = h.controller.HandleFailed(r.Context(), jobID, payload.Reason)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unknown report type " + payload.Type})
		return
	}

	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
