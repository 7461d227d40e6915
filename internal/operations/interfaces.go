package operations

import (
	"context"

	"catpipe/pkg/contracts/domain"
)

// WebSocketHub interface for sending WebSocket messages
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// ReportWriter persists the final report of a run
type ReportWriter interface {
	WriteReport(ctx context.Context, report *domain.RunReport) (string, error)
}

// StageOptions contains optional dependencies for steps
type StageOptions struct {
	StatusBroadcaster *StatusBroadcaster
	EnableProgress    bool
}
