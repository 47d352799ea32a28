package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tunekit/tunekit-api/internal/apperr"
	"github.com/tunekit/tunekit-api/internal/dataset"
	"github.com/tunekit/tunekit-api/internal/models"
	"github.com/tunekit/tunekit-api/internal/repository"
)

// maxDatasetSize bounds uploads at 512 MB; corpora for small-model QLoRA
// runs sit far below this.
const maxDatasetSize = 512 << 20

type DatasetHandler struct {
	repo    repository.DatasetRepository
	dataDir string
	logger  zerolog.Logger
}

func NewDatasetHandler(repo repository.DatasetRepository, dataDir string, logger zerolog.Logger) *DatasetHandler {
	return &DatasetHandler{
		repo:    repo,
		dataDir: dataDir,
		logger:  logger.With().Str("handler", "dataset").Logger(),
	}
}

// Create accepts either a multipart upload (fields "name", "format", file
// part "file") or a JSON body with inline content. The sample count is
// always derived by parsing; a declared count that disagrees is rejected.
func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var (
		name            string
		format          models.DatasetFormat
		content         []byte
		declaredSamples *int
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxDatasetSize); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid multipart payload"})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "missing dataset file"})
			return
		}
		defer file.Close()

		content, err = io.ReadAll(io.LimitReader(file, maxDatasetSize))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		name = r.FormValue("name")
		if name == "" {
			name = header.Filename
		}
		if raw := r.FormValue("format"); raw != "" {
			format = models.DatasetFormat(strings.ToLower(raw))
		} else {
			format = dataset.DetectFormat(header.Filename)
		}
	} else {
		var payload struct {
			Name    string `json:"name"`
			Format  string `json:"format"`
			Content string `json:"content"`
			Samples *int   `json:"samples"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
			return
		}
		name = payload.Name
		format = models.DatasetFormat(strings.ToLower(payload.Format))
		if format == "" {
			format = dataset.DetectFormat(payload.Name)
		}
		content = []byte(payload.Content)
		declaredSamples = payload.Samples
	}

	if strings.TrimSpace(name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "dataset name is required"})
		return
	}

	samples, err := dataset.CountSamples(format, bytes.NewReader(content))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if declaredSamples != nil && *declaredSamples != samples {
		writeError(w, h.logger, apperr.PreconditionFailed(
			"declared sample count %d does not match parsed count %d", *declaredSamples, samples))
		return
	}

	dir := filepath.Join(h.dataDir, "datasets")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, h.logger, err)
		return
	}
	filePath := filepath.Join(dir, uuid.NewString()+"."+string(format))
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		writeError(w, h.logger, err)
		return
	}

	ds, err := h.repo.Create(r.Context(), models.Dataset{
		Name:      strings.TrimSpace(name),
		Format:    format,
		Samples:   samples,
		SizeBytes: int64(len(content)),
		FilePath:  filePath,
	})
	if err != nil {
		os.Remove(filePath)
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"total":    len(datasets),
	})
}

func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	ds, err := h.repo.Get(r.Context(), mux.Vars(r)["datasetID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ds, err := h.repo.Get(r.Context(), mux.Vars(r)["datasetID"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.repo.Delete(r.Context(), ds.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if ds.FilePath != "" {
		if err := os.Remove(ds.FilePath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn().Err(err).Str("path", ds.FilePath).Msg("failed to remove dataset file")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Dataset deleted successfully",
	})
}
