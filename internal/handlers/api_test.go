package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tunekit/tunekit-api/internal/controller"
	"github.com/tunekit/tunekit-api/internal/handlers"
	"github.com/tunekit/tunekit-api/internal/migration"
	"github.com/tunekit/tunekit-api/internal/models"
	"github.com/tunekit/tunekit-api/internal/notification"
	"github.com/tunekit/tunekit-api/internal/repository"
	"github.com/tunekit/tunekit-api/internal/routes"
	"github.com/tunekit/tunekit-api/internal/runner"
)

const testJWTSecret = "test-secret"

type noopRunner struct{}

func (noopRunner) Launch(ctx context.Context, job models.Job, reporter runner.Reporter) (runner.Handle, error) {
	return runner.Handle("task-" + job.ID), nil
}
func (noopRunner) Pause(ctx context.Context, h runner.Handle) error  { return nil }
func (noopRunner) Resume(ctx context.Context, h runner.Handle) error { return nil }
func (noopRunner) Stop(ctx context.Context, h runner.Handle) error   { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := repository.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	migration.RunMigrations(db.DB, "sqlite3", zerolog.Nop())

	jobs := repository.NewJobRepository(db)
	checkpoints := repository.NewCheckpointRepository(db)
	telemetry := repository.NewTelemetryRepository(db, 1000)
	datasets := repository.NewDatasetRepository(db)
	baseModels := repository.NewModelRepository(db)
	notifier := notification.NewService(repository.NewNotificationRepository(db), zerolog.Nop())

	ctx := context.Background()
	_, err = baseModels.Create(ctx, models.BaseModel{Name: "meta-llama/Llama-2-7b-hf", SizeGB: 13.5})
	require.NoError(t, err)
	_, err = datasets.Create(ctx, models.Dataset{Name: "dialogsum", Format: models.DatasetFormatJSONL, Samples: 460})
	require.NoError(t, err)

	ctrl := controller.New(jobs, checkpoints, telemetry, datasets, baseModels, notifier, noopRunner{}, zerolog.Nop())

	logger := zerolog.Nop()
	router := routes.NewRouter(
		handlers.NewHealthHandler(db, logger),
		handlers.NewJobHandler(ctrl, jobs, checkpoints, telemetry, logger),
		handlers.NewDatasetHandler(datasets, t.TempDir(), logger),
		handlers.NewModelHandler(baseModels, logger),
		handlers.NewNotificationHandler(notifier, logger),
		handlers.NewReportHandler(ctrl, logger),
		testJWTSecret,
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, payload interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createJobHTTP(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/jobs", map[string]interface{}{
		"name":    "llama2 summarizer",
		"model":   "meta-llama/Llama-2-7b-hf",
		"dataset": "dialogsum",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestJobCreateAndGet(t *testing.T) {
	server := newTestServer(t)

	jobID := createJobHTTP(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/jobs/"+jobID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "llama2 summarizer", body["name"])

	config, ok := body["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2e-4, config["learning_rate"])
}

func TestJobGetUnknownReturns404(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/jobs/no-such-job", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["detail"], "not found")
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	jobID := createJobHTTP(t, server)

	// pause before start is a state conflict
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/jobs/"+jobID+"/pause", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/jobs/"+jobID+"/start", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["status"])

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/jobs/"+jobID+"/stop", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", body["status"])

	// stopped is terminal
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/jobs/"+jobID+"/start", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestJobStartMissingModelReturns412(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/jobs", map[string]interface{}{
		"name":    "orphan",
		"model":   "no-such-model",
		"dataset": "dialogsum",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	jobID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/jobs/"+jobID+"/start", nil, nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestMetricsAndLogsEndpoints(t *testing.T) {
	server := newTestServer(t)
	jobID := createJobHTTP(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/jobs/"+jobID+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobID, body["job_id"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/jobs/"+jobID+"/logs", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["total"])
}

func TestReportChannelAuth(t *testing.T) {
	server := newTestServer(t)
	jobID := createJobHTTP(t, server)

	report := map[string]interface{}{"type": "progress", "progress": 12.5}
	url := fmt.Sprintf("%s/api/internal/jobs/%s/report", server.URL, jobID)

	// no token at all
	resp, _ := doJSON(t, http.MethodPost, url, report, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// token minted for a different job
	otherToken, err := runner.GenerateJobToken("other-job", []byte(testJWTSecret))
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodPost, url, report, map[string]string{
		"Authorization": "Bearer " + otherToken,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// matching token is accepted
	token, err := runner.GenerateJobToken(jobID, []byte(testJWTSecret))
	require.NoError(t, err)
	resp, body := doJSON(t, http.MethodPost, url, report, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])

	// and the progress landed
	resp, jobBody := doJSON(t, http.MethodGet, server.URL+"/api/jobs/"+jobID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 12.5, jobBody["progress"])
}

func TestDatasetCreateCountsSamples(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/datasets", map[string]interface{}{
		"name":    "tiny.csv",
		"format":  "csv",
		"content": "prompt,completion\nhello,world\nfoo,bar\nbaz,qux\n",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(3), body["samples"])

	// a declared count that disagrees with the parsed one is rejected
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/datasets", map[string]interface{}{
		"name":    "tiny2.csv",
		"format":  "csv",
		"content": "prompt,completion\nhello,world\n",
		"samples": 5,
	}, nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestNotificationFeed(t *testing.T) {
	server := newTestServer(t)
	jobID := createJobHTTP(t, server)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/jobs/"+jobID+"/start", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/notifications", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	notifications, ok := body["notifications"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, notifications)
	first := notifications[0].(map[string]interface{})
	assert.Equal(t, "job_started", first["event_type"])
}
