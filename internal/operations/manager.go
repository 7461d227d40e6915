package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"catpipe/internal/infrastructure"
	"catpipe/pkg/contracts/domain"
)

// Manager orchestrates pipeline runs
type Manager struct {
	registry    *Registry
	config      *Config
	hub         WebSocketHub
	broadcaster *StatusBroadcaster
	tracer      *OperationTracer
	reports     ReportWriter
	logger      *slog.Logger

	mu         sync.RWMutex
	operations map[string]*OperationState
	cancels    map[string]context.CancelFunc
	history    map[string]*domain.RunReport
	finished   []string // history ids, oldest first
}

// NewManager creates a pipeline manager. Nil registry, config or logger
// fall back to empty, default and slog.Default() respectively.
func NewManager(hub WebSocketHub, registry *Registry, config *Config, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		registry:    registry,
		config:      config,
		hub:         hub,
		broadcaster: NewStatusBroadcaster(hub, logger),
		tracer:      NewOperationTracer(nil),
		logger:      logger.With(slog.String("component", "operations_manager")),
		operations:  make(map[string]*OperationState),
		cancels:     make(map[string]context.CancelFunc),
		history:     make(map[string]*domain.RunReport),
	}
}

// RegisterStage registers a Step with the pipeline
func (m *Manager) RegisterStage(step Step) error {
	return m.registry.Register(step)
}

// SetConfig updates the pipeline configuration
func (m *Manager) SetConfig(config *Config) {
	if config != nil {
		m.config = config
	}
}

// SetTracer replaces the span and metrics recorder
func (m *Manager) SetTracer(tracer *OperationTracer) {
	if tracer != nil {
		m.tracer = tracer
	}
}

// SetReportWriter sets where the final report of every run is written
func (m *Manager) SetReportWriter(w ReportWriter) {
	m.reports = w
}

// GetRegistry returns the step registry
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetBroadcaster returns the status broadcaster
func (m *Manager) GetBroadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Execute runs every registered step for req and returns once the run has
// finished. The returned response carries the run report even on failure.
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationResponse, error) {
	if req.ID == "" {
		req.ID = infrastructure.GenerateRunID()
	}

	var cancel context.CancelFunc
	if m.config.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.config.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	ctx = infrastructure.WithRunID(ctx, req.ID)

	state := NewOperationState(req.ID)
	state.SetConfig(ContextKeyRequest, req.Run)

	if err := m.storeOperation(state, cancel); err != nil {
		return nil, err
	}
	defer m.removeOperation(req.ID)

	steps, err := m.registry.GetDependencyOrder()
	if err != nil {
		err = NewFatalError("failed to order pipeline steps", err)
		m.logOperationError(ctx, req.ID, err)
		state.Fail(err)
		report := BuildReport(state)
		m.remember(report)
		return m.createResponse(state, report), err
	}

	ids := make([]string, len(steps))
	names := make([]string, len(steps))
	for i, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
		ids[i] = step.ID()
		names[i] = step.Name()
	}

	m.broadcaster.CreateOperation(req.ID, ids, names)

	ctx, span := m.tracer.TraceRun(ctx, req.ID, req.Run)
	m.logOperationStart(ctx, req.ID, req.Run, len(steps))

	state.Start()
	m.broadcaster.StartOperation(req.ID)

	// Steps hand data to their successors, so parallel mode runs sequentially too
	err = m.executeSequential(ctx, state, steps)

	switch {
	case err == nil:
		state.Complete()
		m.broadcaster.CompleteOperation(req.ID, "run completed")
	case errors.Is(err, context.Canceled):
		state.Cancel()
		m.broadcaster.CancelOperation(req.ID)
	default:
		state.Fail(err)
		m.logOperationError(ctx, req.ID, err)
		m.broadcaster.FailOperation(req.ID, err)
	}

	report := BuildReport(state)
	if m.reports != nil {
		if _, werr := m.reports.WriteReport(context.WithoutCancel(ctx), report); werr != nil {
			m.logger.WarnContext(ctx, "report_write_failed",
				slog.String("operation_id", req.ID),
				slog.String("error", werr.Error()))
		}
	}

	m.tracer.RecordRunCompletion(ctx, span, report, state.Duration(), err)
	m.logOperationComplete(ctx, req.ID, state.Duration(), state.GetStatus())
	m.remember(report)

	return m.createResponse(state, report), err
}

// executeSequential executes steps one by one
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	var failures ErrorList

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			cerr := NewCancellationError(step.ID())
			cerr.Cause = err
			if errors.Is(err, context.DeadlineExceeded) {
				cerr = NewTimeoutError(step.ID(), m.config.RunTimeout.String())
				cerr.Cause = err
			}
			m.skipRemaining(ctx, state, steps, "run stopped before this step")
			return cerr
		}

		stepState := state.GetStage(step.ID())
		if stepState != nil && stepState.GetStatus() == StepStatusSkipped {
			continue
		}

		if err := m.executeStage(ctx, state, step); err != nil {
			m.logStageError(ctx, state.ID, step.ID(), err)
			m.skipDependentStages(ctx, state, steps, step.ID())
			if !m.config.ContinueOnError {
				return err
			}
			var opErr *OperationError
			if errors.As(err, &opErr) {
				failures.Add(opErr)
			}
		}
	}

	if failures.HasErrors() {
		return &failures
	}
	return nil
}

// executeStage executes a single Step with retry logic
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError("step state not found", nil)
	}

	if err := m.checkDependencies(state, step); err != nil {
		stepState.Skip(err.Error())
		m.broadcaster.SkipStep(state.ID, step.ID(), err.Error())
		m.logStageSkipped(ctx, state.ID, step.ID(), err.Error())
		return err
	}

	if err := step.Validate(state); err != nil {
		verr := NewValidationError(step.ID(), err.Error())
		verr.Cause = err
		stepState.Fail(verr)
		m.broadcaster.FailStep(state.ID, step.ID(), verr)
		return verr
	}

	timeout := m.config.GetStageTimeout(step.ID())
	retry := m.config.RetryConfig
	attempts := max(retry.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepState.Start()
		m.broadcaster.UpdateStepProgress(state.ID, step.ID(), 1, step.Name()+" started")
		m.logStageStart(ctx, state.ID, step.ID(), attempt)

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		stageCtx, span := m.tracer.TraceStep(stageCtx, state.ID, step.ID(), attempt)
		start := time.Now()
		err := step.Execute(stageCtx, state)
		duration := time.Since(start)
		if err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			terr := NewTimeoutError(step.ID(), timeout.String())
			terr.Cause = err
			err = terr
		}
		m.tracer.RecordStepCompletion(stageCtx, span, step.ID(), duration, err)
		cancel()

		if err == nil {
			stepState.Complete()
			m.broadcaster.CompleteStep(state.ID, step.ID(), step.Name()+" completed")
			m.logStageComplete(ctx, state.ID, step.ID(), duration)
			return nil
		}

		lastErr = err
		if !IsRetryable(err) || attempt == attempts {
			break
		}

		delay := m.calculateRetryDelay(attempt, retry)
		m.logger.WarnContext(ctx, "stage_retry",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = attempts
		}
	}

	wrapped := WrapError(lastErr, step.ID(), "step execution failed")
	stepState.Fail(wrapped)
	m.broadcaster.FailStep(state.ID, step.ID(), wrapped)
	return wrapped
}

// skipDependentStages marks every step downstream of the failed one as skipped
func (m *Manager) skipDependentStages(ctx context.Context, state *OperationState, steps []Step, failedStageID string) {
	for _, step := range steps {
		for _, dep := range step.GetDependencies() {
			if dep != failedStageID {
				continue
			}
			stepState := state.GetStage(step.ID())
			if stepState != nil && stepState.GetStatus() == StepStatusPending {
				reason := fmt.Sprintf("dependency %s failed", failedStageID)
				stepState.Skip(reason)
				m.broadcaster.SkipStep(state.ID, step.ID(), reason)
				m.logStageSkipped(ctx, state.ID, step.ID(), reason)
				m.skipDependentStages(ctx, state, steps, step.ID())
			}
			break
		}
	}
}

// skipRemaining marks every pending step as skipped
func (m *Manager) skipRemaining(ctx context.Context, state *OperationState, steps []Step, reason string) {
	for _, step := range steps {
		stepState := state.GetStage(step.ID())
		if stepState != nil && stepState.GetStatus() == StepStatusPending {
			stepState.Skip(reason)
			m.broadcaster.SkipStep(state.ID, step.ID(), reason)
			m.logStageSkipped(ctx, state.ID, step.ID(), reason)
		}
	}
}

// checkDependencies verifies that all dependencies completed
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStage(dep)
		if depState == nil {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not found", dep))
		}
		if status := depState.GetStatus(); status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not completed (status: %s)", dep, status))
		}
	}
	return nil
}

// calculateRetryDelay returns InitialDelay * Multiplier^(attempt-1), capped
// at MaxDelay
func (m *Manager) calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	factor := math.Pow(config.Multiplier, float64(attempt-1))
	delay := time.Duration(float64(config.InitialDelay) * factor)
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// createResponse creates a response from state
func (m *Manager) createResponse(state *OperationState, report *domain.RunReport) *OperationResponse {
	snapshot := state.Clone()
	resp := &OperationResponse{
		ID:       snapshot.ID,
		Status:   snapshot.Status,
		Duration: state.Duration(),
		Steps:    snapshot.Steps,
		Report:   report,
	}
	if snapshot.Error != nil {
		resp.Error = snapshot.Error.Error()
	}
	return resp
}

// GetOperation returns a copy of the state of an active run
func (m *Manager) GetOperation(id string) (*OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.operations[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, ErrOperationNotFound)
	}
	return state.Clone(), nil
}

// ListOperations returns copies of all active runs
func (m *Manager) ListOperations() []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	operations := make([]*OperationState, 0, len(m.operations))
	for _, state := range m.operations {
		operations = append(operations, state.Clone())
	}
	return operations
}

// CancelOperation stops an active run. The run ends with status cancelled
// once its current step returns.
func (m *Manager) CancelOperation(id string) error {
	m.mu.RLock()
	cancel, active := m.cancels[id]
	_, finished := m.history[id]
	m.mu.RUnlock()

	if !active {
		if finished {
			return fmt.Errorf("run %s: %w", id, ErrOperationNotRunning)
		}
		return fmt.Errorf("run %s: %w", id, ErrOperationNotFound)
	}

	m.logger.Info("operation_cancel_requested", slog.String("operation_id", id))
	cancel()
	return nil
}

// GetReport returns the report of a run. Active runs report their progress
// so far.
func (m *Manager) GetReport(id string) (*domain.RunReport, error) {
	m.mu.RLock()
	state, active := m.operations[id]
	report, finished := m.history[id]
	m.mu.RUnlock()

	switch {
	case active:
		return BuildReport(state), nil
	case finished:
		return report, nil
	}
	return nil, fmt.Errorf("run %s: %w", id, ErrOperationNotFound)
}

// ListReports returns the reports of active and retained runs, newest first
func (m *Manager) ListReports() []*domain.RunReport {
	m.mu.RLock()
	reports := make([]*domain.RunReport, 0, len(m.operations)+len(m.history))
	for _, state := range m.operations {
		reports = append(reports, BuildReport(state))
	}
	for _, r := range m.history {
		reports = append(reports, r)
	}
	m.mu.RUnlock()

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].StartedAt.Equal(reports[j].StartedAt) {
			return reports[i].RunID > reports[j].RunID
		}
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	return reports
}

// Shutdown cancels active runs and stops the broadcaster
func (m *Manager) Shutdown() {
	m.mu.RLock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.RUnlock()
	m.broadcaster.Stop()
}

func (m *Manager) storeOperation(state *OperationState, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.operations[state.ID]; exists {
		return NewValidationError("", fmt.Sprintf("run %s is already active", state.ID))
	}
	m.operations[state.ID] = state
	m.cancels[state.ID] = cancel
	return nil
}

func (m *Manager) removeOperation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, id)
	delete(m.cancels, id)
}

// remember keeps the final report, dropping the oldest beyond HistorySize
func (m *Manager) remember(report *domain.RunReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.history[report.RunID]; !exists {
		m.finished = append(m.finished, report.RunID)
	}
	m.history[report.RunID] = report

	limit := m.config.HistorySize
	for limit > 0 && len(m.finished) > limit {
		delete(m.history, m.finished[0])
		m.finished = m.finished[1:]
	}
}
