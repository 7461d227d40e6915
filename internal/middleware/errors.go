package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "catpipe/internal/errors"
	"catpipe/internal/infrastructure"
)

// RespondError maps err onto an APIError and renders it as JSON with the
// request's trace id. Server errors are logged at error level.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiErr := apierrors.FromError(err)

	attrs := []any{
		slog.String("error_code", apiErr.ErrorCode),
		slog.Int("status", apiErr.StatusCode),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request_failed", attrs...)
	} else {
		logger.DebugContext(r.Context(), "request_rejected", attrs...)
	}

	resp := apierrors.NewErrorResponse(apiErr)
	resp.TraceID = infrastructure.GetTraceID(r.Context())
	if resp.TraceID == "" {
		resp.TraceID = GetReqID(r.Context())
	}

	render.Status(r, apiErr.StatusCode)
	render.JSON(w, r, resp)
}

// NotFound renders the JSON 404 used for unknown routes
func NotFound(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, logger, apierrors.ErrNotFound)
	}
}

// MethodNotAllowed renders the JSON 405 used for known routes
func MethodNotAllowed(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, logger, apierrors.New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed"))
	}
}
