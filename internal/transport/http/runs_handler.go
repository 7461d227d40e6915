package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "catpipe/internal/errors"
	"catpipe/internal/infrastructure"
	"catpipe/internal/middleware"
	"catpipe/internal/operations"
	"catpipe/internal/validation"
	api "catpipe/pkg/contracts/api/v1"
	"catpipe/pkg/contracts/domain"
)

const defaultListLimit = 50

// RunsHandler serves the /api/v1/runs endpoints
type RunsHandler struct {
	runs      RunService
	reports   ReportSource
	snapshots SnapshotSource
	ratios    RatioValidator
	datasets  *validation.FileValidator
	validator *middleware.Validator
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *slog.Logger
}

// RunDetail is the response of GET /api/v1/runs/{id}
type RunDetail struct {
	Job      *operations.Job               `json:"job"`
	Snapshot *operations.OperationSnapshot `json:"snapshot,omitempty"`
	Report   *domain.RunReport             `json:"report,omitempty"`
}

// RunList is the response of GET /api/v1/runs
type RunList struct {
	Runs  []*operations.Job `json:"runs"`
	Count int               `json:"count"`
}

// NewRunsHandler creates a runs handler. ratios may be nil, in which case
// ratio errors surface when the run executes.
func NewRunsHandler(runs RunService, reports ReportSource, snapshots SnapshotSource, ratios RatioValidator, logger *slog.Logger) *RunsHandler {
	if runs == nil {
		panic("runs service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RunsHandler{
		runs:      runs,
		reports:   reports,
		snapshots: snapshots,
		ratios:    ratios,
		datasets:  validation.NewFileValidator(logger),
		validator: middleware.NewValidator(),
		timeout:   60 * time.Second,
		tracer:    otel.Tracer("catpipe.http.runs"),
		logger:    logger.With(slog.String("handler", "runs")),
	}
}

// SetRequestTimeout bounds each request served by Routes
func (h *RunsHandler) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// Routes returns a chi router for the runs endpoints
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Timeout(h.timeout))

	r.With(middleware.ContentTypeValidator("application/json")).Post("/", h.CreateRun)
	r.Get("/", h.ListRuns)
	r.Get("/{id}", h.GetRun)
	r.Get("/{id}/report", h.GetRunReport)
	r.Post("/{id}/cancel", h.CancelRun)

	return r
}

// CreateRun handles POST /api/v1/runs
func (h *RunsHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "runs_handler.create_run",
		trace.WithAttributes(attribute.String("request_id", middleware.GetReqID(r.Context()))))
	defer span.End()
	r = r.WithContext(ctx)

	var body api.CreateRunRequest
	if err := h.validator.DecodeJSON(w, r, &body); err != nil {
		h.fail(w, r, span, err)
		return
	}

	run := body.ToDomain()
	if err := h.datasets.ValidateDataset(run.DataPath); err != nil {
		h.fail(w, r, span, datasetError(run.DataPath, err))
		return
	}
	if len(run.Ratios) > 0 && h.ratios != nil {
		if err := h.ratios.ValidateRatios(domain.SplitRatios(run.Ratios)); err != nil {
			h.fail(w, r, span, err)
			return
		}
	}

	job, err := h.runs.Enqueue(ctx, operations.OperationRequest{Run: run})
	if err != nil {
		h.fail(w, r, span, runError(err))
		return
	}

	span.SetAttributes(attribute.String("run.id", job.ID))
	h.logger.InfoContext(ctx, "run_queued",
		slog.String("run_id", job.ID),
		slog.String("data_path", run.DataPath),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, api.CreateRunResponse{
		RunID:     job.ID,
		Status:    string(job.Status),
		PollURL:   "/api/v1/runs/" + job.ID,
		StreamURL: "/ws?run_id=" + job.ID,
	})
}

// ListRuns handles GET /api/v1/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "runs_handler.list_runs")
	defer span.End()
	r = r.WithContext(ctx)

	query := api.ListRunsQuery{Status: r.URL.Query().Get("status"), Limit: defaultListLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, span, apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST",
				"limit must be an integer", raw))
			return
		}
		query.Limit = limit
	}
	if err := h.validator.ValidateStruct(query); err != nil {
		h.fail(w, r, span, err)
		return
	}

	jobs, err := h.runs.ListJobs(operations.JobFilter{
		Status: operations.JobStatus(query.Status),
		Limit:  query.Limit,
	})
	if err != nil {
		h.fail(w, r, span, err)
		return
	}
	if jobs == nil {
		jobs = []*operations.Job{}
	}

	render.JSON(w, r, RunList{Runs: jobs, Count: len(jobs)})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.tracer.Start(r.Context(), "runs_handler.get_run",
		trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()
	r = r.WithContext(ctx)

	job, err := h.runs.GetJob(id)
	if err != nil {
		h.fail(w, r, span, runError(err))
		return
	}

	detail := RunDetail{Job: job}
	if h.snapshots != nil {
		if snap, ok := h.snapshots.GetSnapshot(id); ok {
			detail.Snapshot = snap
		}
	}
	if h.reports != nil {
		if report, err := h.reports.GetReport(id); err == nil {
			detail.Report = report
		}
	}

	render.JSON(w, r, detail)
}

// GetRunReport handles GET /api/v1/runs/{id}/report
func (h *RunsHandler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.tracer.Start(r.Context(), "runs_handler.get_run_report",
		trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()
	r = r.WithContext(ctx)

	if h.reports == nil {
		h.fail(w, r, span, apierrors.ErrRunNotFound)
		return
	}
	report, err := h.reports.GetReport(id)
	if err != nil {
		h.fail(w, r, span, runError(err))
		return
	}
	render.JSON(w, r, report)
}

// CancelRun handles POST /api/v1/runs/{id}/cancel
func (h *RunsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, span := h.tracer.Start(r.Context(), "runs_handler.cancel_run",
		trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()
	r = r.WithContext(ctx)

	if err := h.runs.CancelJob(id); err != nil {
		h.fail(w, r, span, runError(err))
		return
	}

	h.logger.InfoContext(ctx, "run_cancel_requested", slog.String("run_id", id))
	render.JSON(w, r, api.CancelRunResponse{
		RunID:   id,
		Status:  string(domain.RunStatusCancelled),
		Message: "cancellation requested",
	})
}

func (h *RunsHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	middleware.RespondError(w, r, h.logger, err)
}

// datasetError reports an unusable dataset as a bad request
func datasetError(path string, err error) error {
	var appErr *apierrors.AppError
	if errors.As(err, &appErr) && appErr.Type == apierrors.ErrTypeNotFound {
		return apierrors.NewWithDetails(http.StatusBadRequest, "DATASET_NOT_FOUND", "dataset file does not exist", path)
	}
	return apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_DATASET", "dataset file cannot be used", err.Error())
}

// runError maps job queue errors onto API errors
func runError(err error) error {
	switch {
	case errors.Is(err, operations.ErrOperationNotFound):
		return apierrors.ErrRunNotFound
	case errors.Is(err, operations.ErrOperationNotRunning):
		return apierrors.NewWithDetails(http.StatusConflict, "RUN_NOT_ACTIVE", "run is not pending or running", err.Error())
	case errors.Is(err, operations.ErrQueueFull):
		return apierrors.New(http.StatusServiceUnavailable, "QUEUE_FULL", "run queue is full")
	case errors.Is(err, operations.ErrQueueStopped):
		return apierrors.New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "run queue is stopped")
	}
	return err
}
