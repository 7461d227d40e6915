package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"catpipe/internal/middleware"
	"catpipe/internal/operations"
)

// PipelineHandler describes the registered pipeline steps
type PipelineHandler struct {
	pipeline PipelineDescriber
	logger   *slog.Logger
}

// PipelineDescription is the response of GET /api/v1/pipeline
type PipelineDescription struct {
	Steps []operations.StepDescriptor `json:"steps"`
}

// NewPipelineHandler creates a pipeline handler
func NewPipelineHandler(pipeline PipelineDescriber, logger *slog.Logger) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandler{
		pipeline: pipeline,
		logger:   logger.With(slog.String("handler", "pipeline")),
	}
}

// Describe handles GET /api/v1/pipeline
func (h *PipelineHandler) Describe(w http.ResponseWriter, r *http.Request) {
	steps, err := h.pipeline.Describe()
	if err != nil {
		middleware.RespondError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, PipelineDescription{Steps: steps})
}
