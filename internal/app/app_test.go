package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/config"
	"catpipe/internal/exporter"
	"catpipe/internal/infrastructure"
	"catpipe/internal/middleware"
	"catpipe/internal/operations"
	"catpipe/internal/operations/testutil"
	handlers "catpipe/internal/transport/http"
	api "catpipe/pkg/contracts/api/v1"
	"catpipe/pkg/contracts/domain"
	"catpipe/pkg/contracts/events"
)

func newTestApplication(t *testing.T) (*Application, string) {
	t.Helper()
	cfg, _, dataPath := testutil.SetupTestPipeline(t)
	cfg.Server.RateLimit.Enabled = false
	cfg.Server.ShutdownTimeout = 5 * time.Second

	a, err := NewApplication(cfg, infrastructure.DiscardLogger())
	require.NoError(t, err)
	a.Start(context.Background())
	t.Cleanup(func() { a.Stop(context.Background()) })
	return a, dataPath
}

func TestNewApplication(t *testing.T) {
	a, _ := newTestApplication(t)

	assert.NotNil(t, a.Router)
	assert.NotNil(t, a.Server)
	assert.NotNil(t, a.WebSocketHub)
	assert.NotNil(t, a.JobQueue)
	require.NotNil(t, a.Services)
	assert.NotNil(t, a.Services.Health)
	assert.Equal(t, "none", a.Services.Store.Backend())
	assert.Equal(t, len(operations.PipelineOrder), a.Manager.GetRegistry().Count())
	assert.Equal(t, ":8080", a.Server.Addr)
}

func TestNewApplicationInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no workers", func(c *config.Config) { c.Server.Workers = 0 }},
		{"bad port", func(c *config.Config) { c.Server.Port = 0 }},
		{"unknown store", func(c *config.Config) { c.Export.Store.Backend = "ftp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, _ := testutil.SetupTestPipeline(t)
			tt.mutate(cfg)
			_, err := NewApplication(cfg, infrastructure.DiscardLogger())
			assert.Error(t, err)
		})
	}
}

func TestApplicationRoutes(t *testing.T) {
	a, _ := newTestApplication(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/healthz", http.StatusOK, `"status":"ok"`},
		{"ready", http.MethodGet, "/healthz/ready", http.StatusOK, `"status":"ready"`},
		{"live", http.MethodGet, "/healthz/live", http.StatusOK, `"status":"alive"`},
		{"version", http.MethodGet, "/api/v1/version", http.StatusOK, `"api_version":"v1"`},
		{"pipeline", http.MethodGet, "/api/v1/pipeline", http.StatusOK, `"id":"load"`},
		{"runtime metrics", http.MethodGet, "/api/v1/metrics", http.StatusOK, `"queue"`},
		{"prometheus", http.MethodGet, "/metrics", http.StatusOK, ""},
		{"empty run list", http.MethodGet, "/api/v1/runs", http.StatusOK, `"count":0`},
		{"unknown run", http.MethodGet, "/api/v1/runs/nope", http.StatusNotFound, `"RUN_NOT_FOUND"`},
		{"unknown route", http.MethodGet, "/nowhere", http.StatusNotFound, `"NOT_FOUND"`},
		{"wrong method", http.MethodDelete, "/api/v1/pipeline", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestApplicationPipelineOrder(t *testing.T) {
	a, _ := newTestApplication(t)

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var desc handlers.PipelineDescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desc))
	ids := make([]string, len(desc.Steps))
	for i, s := range desc.Steps {
		ids[i] = s.ID
	}
	assert.Equal(t, operations.PipelineOrder, ids)
}

func TestApplicationRunEndToEnd(t *testing.T) {
	a, dataPath := newTestApplication(t)
	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	body := fmt.Sprintf(`{"data_path":%q,"ratios":[0.6,0.2,0.2]}`, dataPath)
	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created api.CreateRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.RunID)

	// the stream ends with a terminal snapshot for the run
	deadline := time.Now().Add(10 * time.Second)
	var finalStatus string
	for finalStatus == "" {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg events.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == events.MessageTypeOperationSnapshot && msg.RunID == created.RunID &&
			(msg.Status == string(domain.RunStatusCompleted) || msg.Status == string(domain.RunStatusFailed)) {
			finalStatus = msg.Status
		}
	}
	assert.Equal(t, string(domain.RunStatusCompleted), finalStatus)

	var detail handlers.RunDetail
	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + created.PollURL)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		detail = handlers.RunDetail{}
		if json.NewDecoder(r.Body).Decode(&detail) != nil {
			return false
		}
		return detail.Job != nil && detail.Job.IsFinished()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, operations.JobStatusCompleted, detail.Job.Status)
	require.NotNil(t, detail.Report)
	assert.Equal(t, domain.RunStatusCompleted, detail.Report.Status)
	assert.Len(t, detail.Report.Evaluations, 3)
	assert.FileExists(t, filepath.Join(a.Paths.RunReportDir(created.RunID), exporter.ReportFileName))
}

func TestApplicationRejectsBadRatios(t *testing.T) {
	a, dataPath := newTestApplication(t)

	body := fmt.Sprintf(`{"data_path":%q,"ratios":[0.6,0.3,0.3]}`, dataPath)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}

func TestApplicationStopIsIdempotent(t *testing.T) {
	cfg, _, _ := testutil.SetupTestPipeline(t)
	a, err := NewApplication(cfg, infrastructure.DiscardLogger())
	require.NoError(t, err)
	a.Start(context.Background())

	assert.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 0, a.WebSocketHub.ClientCount())
}

func TestApplicationRunStopsOnCancel(t *testing.T) {
	cfg, _, _ := testutil.SetupTestPipeline(t)
	a, err := NewApplication(cfg, infrastructure.DiscardLogger())
	require.NoError(t, err)
	a.Server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
