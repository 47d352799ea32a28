package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tunekit/tunekit-api/internal/handlers"
	"github.com/tunekit/tunekit-api/internal/middleware"
)

// NewRouter sets up the API routes
func NewRouter(
	health *handlers.HealthHandler,
	job *handlers.JobHandler,
	dataset *handlers.DatasetHandler,
	model *handlers.ModelHandler,
	notification *handlers.NotificationHandler,
	report *handlers.ReportHandler,
	jwtSecret string,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Job lifecycle
	api.HandleFunc("/jobs", job.Create).Methods(http.MethodPost)
	api.HandleFunc("/jobs", job.List).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", job.Info).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", job.Edit).Methods(http.MethodPatch)
	api.HandleFunc("/jobs/{jobID}", job.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{jobID}/start", job.Start).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/pause", job.Pause).Methods(http.MethodPost)
	// resume is start applied to a paused job
	api.HandleFunc("/jobs/{jobID}/resume", job.Start).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/stop", job.Stop).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/retry", job.Retry).Methods(http.MethodPost)

	// Job telemetry and artifacts
	api.HandleFunc("/jobs/{jobID}/metrics", job.Metrics).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/logs", job.Logs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/checkpoints", job.Checkpoints).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/checkpoints/{checkpointID}", job.DeleteCheckpoint).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{jobID}/checkpoints/{checkpointID}/download", job.DownloadCheckpoint).Methods(http.MethodGet)

	// Dataset registry
	api.HandleFunc("/datasets", dataset.Create).Methods(http.MethodPost)
	api.HandleFunc("/datasets", dataset.List).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{datasetID}", dataset.Get).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{datasetID}", dataset.Delete).Methods(http.MethodDelete)

	// Base model registry
	api.HandleFunc("/models", model.Register).Methods(http.MethodPost)
	api.HandleFunc("/models", model.List).Methods(http.MethodGet)
	api.HandleFunc("/models/{modelID}", model.Get).Methods(http.MethodGet)
	api.HandleFunc("/models/{modelID}", model.Delete).Methods(http.MethodDelete)

	// Notification feed
	api.HandleFunc("/notifications", notification.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notification.MarkRead).Methods(http.MethodPost)

	// Runner report channel, authenticated by the job-scoped token.
	internal := router.PathPrefix("/api/internal").Subrouter()
	internal.Use(middleware.JobToken(jwtSecret))
	internal.HandleFunc("/jobs/{jobID}/report", report.Report).Methods(http.MethodPost)

	return router
}
