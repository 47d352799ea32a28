package handlers

import (
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type HealthHandler struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewHealthHandler(db *sqlx.DB, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger.With().Str("handler", "health").Logger(),
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
