package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
	"github.com/matterhub/sync-engine/internal/engine"
	"github.com/matterhub/sync-engine/internal/metrics"
	"github.com/matterhub/sync-engine/internal/monitor"
	"github.com/matterhub/sync-engine/internal/source"
)

type staticAdapter struct {
	records []conflict.Record
}

func (s *staticAdapter) Read(_ context.Context, _ *source.Endpoint) ([]conflict.Record, error) {
	return s.records, nil
}

func (s *staticAdapter) Write(_ context.Context, _ *source.Endpoint, _ []conflict.Record) error {
	return nil
}

func newTestRouter(t *testing.T) (*mux.Router, *engine.Engine, *monitor.Monitor) {
	t.Helper()
	logger := zap.NewNop()
	collector := metrics.NewCollector(prometheus.NewRegistry())

	monCfg := monitor.DefaultConfig()
	monCfg.EvaluationInterval = time.Hour
	monCfg.CleanupInterval = time.Hour
	mon := monitor.New(monCfg, collector, nil, nil, logger)
	t.Cleanup(mon.Close)

	engCfg := engine.DefaultConfig()
	engCfg.BackoffBase = time.Millisecond
	eng := engine.New(engCfg, conflict.NewDetector(logger), conflict.NewResolver(logger),
		engine.NewMemoryCache(), mon, collector, logger)
	mon.SetHealthFunc(eng.HealthCheck)

	adapter := &staticAdapter{records: []conflict.Record{{"id": "1", "status": "open"}}}
	eng.RegisterReader(source.TypeAPI, adapter)
	eng.RegisterWriter(source.TypeAPI, adapter)

	router := mux.NewRouter()
	NewHandler(eng, mon, logger).SetupRoutes(router)
	return router, eng, mon
}

func doRequest(router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestRunSync(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := doRequest(router, http.MethodPost, "/api/v1/sync", SyncRequest{
		Source: &source.Endpoint{ID: "src", Type: source.TypeAPI},
		Target: &source.Endpoint{ID: "tgt", Type: source.TypeAPI},
	})

	require.Equal(t, http.StatusOK, recorder.Code)

	var result engine.SyncResult
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RecordsProcessed)
}

func TestRunSyncMissingEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := doRequest(router, http.MethodPost, "/api/v1/sync", SyncRequest{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRunSyncInvalidBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader([]byte("{broken")))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRunSyncJobFailure(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// An unregistered endpoint type aborts the job; the handler returns the
	// failed result alongside the error.
	recorder := doRequest(router, http.MethodPost, "/api/v1/sync", SyncRequest{
		Source: &source.Endpoint{ID: "src", Type: "telepathy"},
		Target: &source.Endpoint{ID: "tgt", Type: source.TypeAPI},
	})

	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Contains(t, payload, "error")
	assert.Contains(t, payload, "result")
}

func TestGetSyncResult(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	result, err := eng.Sync(context.Background(),
		&source.Endpoint{ID: "src", Type: source.TypeAPI},
		&source.Endpoint{ID: "tgt", Type: source.TypeAPI})
	require.NoError(t, err)

	recorder := doRequest(router, http.MethodGet, "/api/v1/sync/"+result.ID, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(router, http.MethodGet, "/api/v1/sync/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetSyncConflicts(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	result, err := eng.Sync(context.Background(),
		&source.Endpoint{ID: "src", Type: source.TypeAPI},
		&source.Endpoint{ID: "tgt", Type: source.TypeAPI})
	require.NoError(t, err)

	recorder := doRequest(router, http.MethodGet, "/api/v1/sync/"+result.ID+"/conflicts", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload struct {
		JobID     string               `json:"job_id"`
		Conflicts []*conflict.Conflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Equal(t, result.ID, payload.JobID)

	recorder = doRequest(router, http.MethodGet, "/api/v1/sync/no-such-job/conflicts", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestListSyncResults(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	_, err := eng.Sync(context.Background(),
		&source.Endpoint{ID: "src", Type: source.TypeAPI},
		&source.Endpoint{ID: "tgt", Type: source.TypeAPI})
	require.NoError(t, err)

	recorder := doRequest(router, http.MethodGet, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload struct {
		Results []engine.SyncResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Len(t, payload.Results, 1)
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// No database configured: degraded, still 200.
	recorder := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Equal(t, "degraded", payload["status"])
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	eng.Shutdown()
	recorder := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestAlertConfigEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := doRequest(router, http.MethodPost, "/api/v1/alerts/configs", monitor.AlertConfig{
		Name:      "failures",
		Type:      monitor.AlertTypeSyncFailure,
		Enabled:   true,
		Threshold: 10,
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var created monitor.AlertConfig
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	recorder = doRequest(router, http.MethodPost, "/api/v1/alerts/configs", monitor.AlertConfig{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(router, http.MethodDelete, "/api/v1/alerts/configs/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	recorder = doRequest(router, http.MethodGet, "/api/v1/alerts", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestMetricsAndStatusEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := doRequest(router, http.MethodGet, "/api/v1/metrics", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var status monitor.SystemStatus
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.Equal(t, "1.0.0", status.Version)
}

func TestPerformanceReportEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := doRequest(router, http.MethodGet, "/api/v1/reports/performance", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = doRequest(router, http.MethodGet, "/api/v1/reports/performance?window=90d", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
