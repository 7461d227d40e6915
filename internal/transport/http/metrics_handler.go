package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// MetricsHandler serves the Prometheus scrape endpoint and a JSON view of
// the runtime counters
type MetricsHandler struct {
	prometheus http.Handler
	hub        HubStats
	runs       RunService
}

// NewMetricsHandler creates a metrics handler. A nil prometheus handler
// disables /metrics.
func NewMetricsHandler(prometheus http.Handler, hub HubStats, runs RunService) *MetricsHandler {
	return &MetricsHandler{prometheus: prometheus, hub: hub, runs: runs}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMetrics)
	return r
}

// Prometheus handles GET /metrics
func (h *MetricsHandler) Prometheus(w http.ResponseWriter, r *http.Request) {
	if h.prometheus == nil {
		http.Error(w, "metrics exporter disabled", http.StatusNotFound)
		return
	}
	h.prometheus.ServeHTTP(w, r)
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{}
	if h.hub != nil {
		response["websocket"] = h.hub.GetHubMetrics()
	}
	if h.runs != nil {
		response["queue"] = h.runs.GetQueueStats()
	}
	render.JSON(w, r, response)
}
