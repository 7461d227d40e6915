package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/config"
	"catpipe/internal/infrastructure"
	"catpipe/internal/operations"
	"catpipe/internal/services"
)

type fakeHub struct{ clients int }

func (f fakeHub) ClientCount() int { return f.clients }

func (f fakeHub) GetHubMetrics() map[string]interface{} {
	return map[string]interface{}{"active_clients": f.clients}
}

type fakeQueue struct{ size, capacity int }

func (f fakeQueue) GetQueueStats() map[string]interface{} {
	return map[string]interface{}{"queue_size": f.size, "queue_cap": f.capacity}
}

func healthRouter(t *testing.T, queue fakeQueue) http.Handler {
	t.Helper()
	root := t.TempDir()
	paths := &config.Paths{
		ImagesDir:  filepath.Join(root, "images"),
		ReportsDir: filepath.Join(root, "reports"),
		LogsDir:    filepath.Join(root, "logs"),
	}
	require.NoError(t, paths.EnsureDirectories(infrastructure.DiscardLogger()))

	svc := services.NewHealthService(paths, fakeHub{clients: 1}, queue, nil, infrastructure.DiscardLogger())
	h := NewHealthHandler(svc, infrastructure.DiscardLogger())

	r := chi.NewRouter()
	r.Mount("/healthz", h.Routes())
	r.Get("/api/v1/version", h.Version)
	return r
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		queue      fakeQueue
		wantStatus int
		wantBody   string
	}{
		{"health", "/healthz", fakeQueue{0, 4}, http.StatusOK, "ok"},
		{"ready", "/healthz/ready", fakeQueue{0, 4}, http.StatusOK, "ready"},
		{"not ready when queue full", "/healthz/ready", fakeQueue{4, 4}, http.StatusServiceUnavailable, "not_ready"},
		{"live", "/healthz/live", fakeQueue{0, 4}, http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthRouter(t, tt.queue).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var status services.HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.wantBody, status.Status)
		})
	}
}

func TestHealthDetailedAndVersion(t *testing.T) {
	router := healthRouter(t, fakeQueue{0, 4})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Contains(t, detail, "stats")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"api_version":"v1"`)
}

func TestMetricsHandler(t *testing.T) {
	prom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("catpipe_runs_total 3\n"))
	})
	runs := &MockRunService{}
	runs.On("GetQueueStats").Return(map[string]interface{}{"workers": 2})
	h := NewMetricsHandler(prom, fakeHub{clients: 2}, runs)

	r := chi.NewRouter()
	r.Get("/metrics", h.Prometheus)
	r.Mount("/api/v1/metrics", h.Routes())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "catpipe_runs_total")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"websocket":{"active_clients":2},"queue":{"workers":2}}`, rec.Body.String())

	disabled := NewMetricsHandler(nil, nil, nil)
	rec = httptest.NewRecorder()
	disabled.Prometheus(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakePipeline struct {
	steps []operations.StepDescriptor
	err   error
}

func (f fakePipeline) Describe() ([]operations.StepDescriptor, error) {
	return f.steps, f.err
}

func TestPipelineHandler(t *testing.T) {
	steps := []operations.StepDescriptor{
		{ID: "ingest", Name: "Ingest", Dependencies: []string{}},
		{ID: "split", Name: "Split", Dependencies: []string{"ingest"}},
	}

	rec := httptest.NewRecorder()
	NewPipelineHandler(fakePipeline{steps: steps}, infrastructure.DiscardLogger()).
		Describe(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var desc PipelineDescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desc))
	assert.Equal(t, steps, desc.Steps)

	rec = httptest.NewRecorder()
	NewPipelineHandler(fakePipeline{err: errors.New("circular dependency")}, nil).
		Describe(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
