package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"catpipe/pkg/contracts/domain"
)

// StatusBroadcaster is the single authority for run status updates. It keeps
// the latest snapshot of every run and pushes each change to the hub.
type StatusBroadcaster struct {
	mu         sync.RWMutex
	operations map[string]*OperationSnapshot
	hub        WebSocketHub
	logger     *slog.Logger
	updates    chan updateRequest
	stop       chan struct{}
	stopOnce   sync.Once
}

// OperationSnapshot represents the complete state of a run at a point in time
type OperationSnapshot struct {
	OperationID string           `json:"operation_id"`
	Status      domain.RunStatus `json:"status"`
	Progress    int              `json:"progress"`     // 0-100
	CurrentStep string           `json:"current_step"` // name of the active step
	Steps       []StepSnapshot   `json:"steps"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// StepSnapshot represents the state of a single step
type StepSnapshot struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Status   domain.StepStatus      `json:"status"`
	Progress int                    `json:"progress"` // 0-100
	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type updateRequest struct {
	operationID string
	updateFunc  func(*OperationSnapshot)
	done        chan struct{}
}

// NewStatusBroadcaster creates a broadcaster; a nil hub only keeps snapshots
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	sb := &StatusBroadcaster{
		operations: make(map[string]*OperationSnapshot),
		hub:        hub,
		logger:     logger.With(slog.String("component", "status_broadcaster")),
		updates:    make(chan updateRequest, 100),
		stop:       make(chan struct{}),
	}

	go sb.processUpdates()

	return sb
}

// processUpdates applies updates one at a time so snapshots never interleave
func (sb *StatusBroadcaster) processUpdates() {
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			sb.handleUpdate(req)
		}
	}
}

func (sb *StatusBroadcaster) handleUpdate(req updateRequest) {
	defer close(req.done)

	sb.mu.Lock()
	snapshot, exists := sb.operations[req.operationID]
	if !exists {
		now := time.Now()
		snapshot = &OperationSnapshot{
			OperationID: req.operationID,
			Status:      domain.RunStatusPending,
			StartedAt:   now,
			UpdatedAt:   now,
			Steps:       []StepSnapshot{},
		}
		sb.operations[req.operationID] = snapshot
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = time.Now()

	if len(snapshot.Steps) > 0 {
		total := 0
		for _, step := range snapshot.Steps {
			total += step.Progress
		}
		snapshot.Progress = total / len(snapshot.Steps)
	}

	if isTerminal(snapshot.Status) && snapshot.CompletedAt == nil {
		now := time.Now()
		snapshot.CompletedAt = &now
	}

	out := snapshot.clone()
	sb.mu.Unlock()

	sb.broadcast(out)
}

func isTerminal(status domain.RunStatus) bool {
	return status == domain.RunStatusCompleted || status == domain.RunStatusFailed || status == domain.RunStatusCancelled
}

// broadcast sends the complete snapshot to all connected clients
func (sb *StatusBroadcaster) broadcast(snapshot *OperationSnapshot) {
	if sb.hub == nil {
		return
	}

	sb.logger.Debug("broadcasting_snapshot",
		slog.String("operation_id", snapshot.OperationID),
		slog.String("status", string(snapshot.Status)),
		slog.Int("progress", snapshot.Progress),
		slog.String("current_step", snapshot.CurrentStep))

	sb.hub.BroadcastUpdate(EventTypeOperationSnapshot, snapshot.OperationID, string(snapshot.Status), snapshot)
}

// UpdateStatus applies updateFunc to the run's snapshot and waits until the
// change is broadcast. Updates after Stop are dropped.
func (sb *StatusBroadcaster) UpdateStatus(operationID string, updateFunc func(*OperationSnapshot)) {
	req := updateRequest{
		operationID: operationID,
		updateFunc:  updateFunc,
		done:        make(chan struct{}),
	}

	select {
	case sb.updates <- req:
	case <-sb.stop:
		return
	}

	select {
	case <-req.done:
	case <-sb.stop:
	}
}

// CreateOperation initializes a run with its steps. ids are the stable step
// IDs later updates refer to; names are shown to users.
func (sb *StatusBroadcaster) CreateOperation(operationID string, ids, names []string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = domain.RunStatusPending
		snapshot.Progress = 0
		snapshot.Steps = make([]StepSnapshot, len(ids))
		for i, id := range ids {
			name := id
			if i < len(names) && names[i] != "" {
				name = names[i]
			}
			snapshot.Steps[i] = StepSnapshot{
				ID:     id,
				Name:   name,
				Status: domain.StepStatusPending,
			}
		}
		snapshot.Message = "run created"
	})
}

// StartOperation marks a run as running
func (sb *StatusBroadcaster) StartOperation(operationID string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = domain.RunStatusRunning
		snapshot.Message = "run started"
	})
}

// UpdateStepProgress updates a specific step's progress
func (sb *StatusBroadcaster) UpdateStepProgress(operationID, stepID string, progress int, message string) {
	sb.UpdateStepWithMetadata(operationID, stepID, progress, message, nil)
}

// UpdateStepWithMetadata updates a step's progress and metadata. Progress of
// a running step never goes backwards.
func (sb *StatusBroadcaster) UpdateStepWithMetadata(operationID, stepID string, progress int, message string, metadata map[string]interface{}) {
	progress = max(0, min(progress, 100))

	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		idx := -1
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				idx = i
				break
			}
		}
		if idx < 0 {
			snapshot.Steps = append(snapshot.Steps, StepSnapshot{ID: stepID, Name: stepID, Status: domain.StepStatusPending})
			idx = len(snapshot.Steps) - 1
		}

		step := &snapshot.Steps[idx]
		if progress >= step.Progress || step.Status != domain.StepStatusRunning {
			step.Progress = progress
		}
		step.Message = message
		if metadata != nil {
			step.Metadata = metadata
		}

		switch {
		case progress >= 100:
			step.Status = domain.StepStatusCompleted
		case step.Status == domain.StepStatusPending || step.Status == domain.StepStatusRunning:
			step.Status = domain.StepStatusRunning
			snapshot.CurrentStep = step.Name
		}
	})
}

// SkipStep marks a step as skipped
func (sb *StatusBroadcaster) SkipStep(operationID, stepID, reason string) {
	sb.setStep(operationID, stepID, func(step *StepSnapshot) {
		step.Status = domain.StepStatusSkipped
		step.Message = reason
	})
}

// CompleteStep marks a step as completed
func (sb *StatusBroadcaster) CompleteStep(operationID, stepID string, message string) {
	sb.setStep(operationID, stepID, func(step *StepSnapshot) {
		step.Status = domain.StepStatusCompleted
		step.Progress = 100
		step.Message = message
		step.Error = ""
	})
}

// FailStep marks a step as failed
func (sb *StatusBroadcaster) FailStep(operationID, stepID string, err error) {
	sb.setStep(operationID, stepID, func(step *StepSnapshot) {
		step.Status = domain.StepStatusFailed
		if err != nil {
			step.Error = err.Error()
		}
	})
}

func (sb *StatusBroadcaster) setStep(operationID, stepID string, apply func(*StepSnapshot)) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				apply(&snapshot.Steps[i])
				return
			}
		}
	})
}

// CompleteOperation marks a run as completed
func (sb *StatusBroadcaster) CompleteOperation(operationID string, message string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = domain.RunStatusCompleted
		snapshot.Progress = 100
		snapshot.CurrentStep = ""
		snapshot.Message = message
		for i := range snapshot.Steps {
			if snapshot.Steps[i].Status == domain.StepStatusCompleted || snapshot.Steps[i].Status == domain.StepStatusSkipped {
				snapshot.Steps[i].Progress = 100
			}
		}
	})
}

// FailOperation marks a run as failed
func (sb *StatusBroadcaster) FailOperation(operationID string, err error) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = domain.RunStatusFailed
		if err != nil {
			snapshot.Error = err.Error()
		}
		snapshot.CurrentStep = ""
	})
}

// CancelOperation marks a run as cancelled
func (sb *StatusBroadcaster) CancelOperation(operationID string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = domain.RunStatusCancelled
		snapshot.CurrentStep = ""
		snapshot.Message = "run cancelled"
	})
}

// GetSnapshot returns a copy of the current snapshot of a run
func (sb *StatusBroadcaster) GetSnapshot(operationID string) (*OperationSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshot, exists := sb.operations[operationID]
	if !exists {
		return nil, false
	}
	return snapshot.clone(), true
}

// GetAllSnapshots returns copies of all current snapshots
func (sb *StatusBroadcaster) GetAllSnapshots() []*OperationSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshots := make([]*OperationSnapshot, 0, len(sb.operations))
	for _, snapshot := range sb.operations {
		snapshots = append(snapshots, snapshot.clone())
	}
	return snapshots
}

// CleanupOldOperations drops finished runs older than maxAge and returns how
// many were removed
func (sb *StatusBroadcaster) CleanupOldOperations(ctx context.Context, maxAge time.Duration) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, snapshot := range sb.operations {
		if !isTerminal(snapshot.Status) || snapshot.CompletedAt == nil {
			continue
		}
		if age := now.Sub(*snapshot.CompletedAt); age > maxAge {
			delete(sb.operations, id)
			removed++
			sb.logger.DebugContext(ctx, "snapshot_removed",
				slog.String("operation_id", id),
				slog.String("status", string(snapshot.Status)),
				slog.Duration("age", age))
		}
	}
	return removed
}

// Stop shuts down the update loop. It is safe to call more than once.
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() { close(sb.stop) })
}

func (s *OperationSnapshot) clone() *OperationSnapshot {
	out := *s
	out.Steps = make([]StepSnapshot, len(s.Steps))
	copy(out.Steps, s.Steps)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
