package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/models"
	"github.com/tunekit/tunekit-api/internal/repository"
)

type ModelHandler struct {
	repo   repository.ModelRepository
	logger zerolog.Logger
}

func NewModelHandler(repo repository.ModelRepository, logger zerolog.Logger) *ModelHandler {
	return &ModelHandler{
		repo:   repo,
		logger: logger.With().Str("handler", "model").Logger(),
	}
}

// Register records a base model as available on this machine. The download
// itself happens out of band; the registry only tracks what jobs may use.
func (h *ModelHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name   string  `json:"name"`
		SizeGB float64 `json:"size_gb"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "model name is required"})
		return
	}

	m, err := h.repo.Create(r.Context(), models.BaseModel{
		Name:   strings.TrimSpace(payload.Name),
		SizeGB: payload.SizeGB,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": result,
		"total":  len(result),
	})
}

func (h *ModelHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.repo.Get(r.Context(), mux.Vars(r)["modelID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *ModelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), mux.Vars(r)["modelID"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Model deleted successfully",
	})
}
