// Package api contains the HTTP contract of the catpipe service.
// Version v1 represents the current stable API version.
package api

import (
	"strings"

	"catpipe/pkg/contracts/domain"
)

// CreateRunRequest starts a pipeline run over one dataset. Ratio checks are
// left to the splitter so that count, sum and range failures are reported in
// that order.
type CreateRunRequest struct {
	DataPath     string    `json:"data_path" validate:"required"`
	Sheet        string    `json:"sheet,omitempty"`
	FeatureNames []string  `json:"feature_names,omitempty" validate:"omitempty,dive,required"`
	Columns      []string  `json:"columns,omitempty" validate:"omitempty,dive,required"`
	Ratios       []float64 `json:"ratios,omitempty"`
	Model        string    `json:"model,omitempty" validate:"omitempty,oneof=tree forest"`
	Depth        int       `json:"depth,omitempty" validate:"omitempty,min=1,max=10"`
}

// ToDomain converts the request into the run description used by the pipeline
func (r CreateRunRequest) ToDomain() domain.RunRequest {
	return domain.RunRequest{
		DataPath:     strings.TrimSpace(r.DataPath),
		Sheet:        r.Sheet,
		FeatureNames: r.FeatureNames,
		Columns:      r.Columns,
		Ratios:       r.Ratios,
		Model:        domain.ModelKind(r.Model),
		Depth:        r.Depth,
	}
}

// ListRunsQuery holds the query parameters of GET /api/v1/runs
type ListRunsQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=pending running completed failed cancelled"`
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=500"`
}

// CreateRunResponse acknowledges a queued run
type CreateRunResponse struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	PollURL   string `json:"poll_url"`
	StreamURL string `json:"stream_url"`
}

// CancelRunResponse acknowledges a cancellation
type CancelRunResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
