package operations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"catpipe/internal/operations"
	"catpipe/internal/operations/testutil"
	"catpipe/pkg/contracts/domain"
)

func newTestManager(t *testing.T, cfg *operations.Config, steps ...*testutil.MockStage) (*operations.Manager, *testutil.MockWebSocketHub) {
	t.Helper()
	if cfg == nil {
		cfg = testutil.CreateTestConfig()
	}
	hub := &testutil.MockWebSocketHub{}
	logger, _ := testutil.CreateTestSlogLogger()
	m := operations.NewManager(hub, nil, cfg, logger)
	for _, s := range steps {
		require.NoError(t, m.RegisterStage(s))
	}
	t.Cleanup(m.Shutdown)
	return m, hub
}

func TestManagerNewManagerDefaults(t *testing.T) {
	m := operations.NewManager(nil, nil, nil, nil)
	defer m.Shutdown()

	assert.NotNil(t, m.GetRegistry())
	assert.NotNil(t, m.GetBroadcaster())
	assert.Equal(t, operations.ExecutionModeSequential, m.GetConfig().ExecutionMode)

	m.SetConfig(nil)
	assert.NotNil(t, m.GetConfig())
}

func TestManagerExecuteOrder(t *testing.T) {
	steps := testutil.CreateComplexPipelineStages()
	m, hub := newTestManager(t, nil, steps...)

	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "ordered"})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "ordered", resp.ID)
	assert.Equal(t, operations.OperationStatusCompleted, resp.Status)
	testutil.AssertStageOrder(t, steps, []string{"A", "B", "C", "D"})
	for _, s := range steps {
		assert.Equal(t, 1, s.GetExecuteCalls(), s.ID())
	}

	require.NotNil(t, resp.Report)
	assert.Equal(t, domain.RunStatusCompleted, resp.Report.Status)
	ids := make([]string, len(resp.Report.Steps))
	for i, s := range resp.Report.Steps {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)

	last := hub.LastSnapshot("ordered")
	require.NotNil(t, last)
	assert.Equal(t, domain.RunStatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
}

func TestManagerGeneratesRunID(t *testing.T) {
	m, _ := newTestManager(t, nil, testutil.CreateSuccessfulStage("only", "Only"))

	resp, err := m.Execute(context.Background(), operations.OperationRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)

	report, err := m.GetReport(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, report.RunID)
}

func TestManagerPassesContextBetweenSteps(t *testing.T) {
	writer := testutil.CreateContextWritingStage("write", "Write", "shared", 42)
	var seen interface{}
	reader := testutil.NewStageBuilder("read", "Read").
		WithDependencies("write").
		WithExecute(func(ctx context.Context, state *operations.OperationState) error {
			seen, _ = state.GetContext("shared")
			return nil
		}).
		Build()

	m, _ := newTestManager(t, nil, writer, reader)
	_, err := m.Execute(context.Background(), operations.OperationRequest{ID: "ctx"})
	require.NoError(t, err)
	assert.Equal(t, 42, seen)
}

func TestManagerRetries(t *testing.T) {
	tests := []struct {
		name       string
		failCount  int
		wantStatus operations.OperationStatusValue
		wantCalls  int
	}{
		{"succeeds on retry", 1, operations.OperationStatusCompleted, 2},
		{"gives up after max attempts", 5, operations.OperationStatusFailed, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := testutil.CreateRetryableStage("flaky", "Flaky", tt.failCount)
			m, _ := newTestManager(t, nil, step)

			resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "retry"})
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantCalls, step.GetExecuteCalls())
			assert.Equal(t, tt.wantCalls, resp.Steps["flaky"].Attempts)
			if tt.wantStatus == operations.OperationStatusFailed {
				testutil.AssertErrorType(t, err, operations.ErrorTypeExecution)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerDoesNotRetryInvalidInput(t *testing.T) {
	step := testutil.CreateFailingStage("split", "Split", operations.NewExecutionError("split", errors.New("bad"), false))
	m, _ := newTestManager(t, nil, step)

	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "no-retry"})
	require.Error(t, err)
	assert.Equal(t, operations.OperationStatusFailed, resp.Status)
	assert.Equal(t, 1, step.GetExecuteCalls())
}

func TestManagerValidationFailure(t *testing.T) {
	invalid := testutil.CreateValidationFailingStage("load", "Load", errors.New("no data path"))
	downstream := testutil.CreateSuccessfulStage("train", "Train", "load")
	m, _ := newTestManager(t, nil, invalid, downstream)

	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "invalid"})
	require.Error(t, err)
	testutil.AssertErrorType(t, err, operations.ErrorTypeValidation)
	assert.Contains(t, err.Error(), "no data path")

	assert.Equal(t, 0, invalid.GetExecuteCalls())
	assert.Equal(t, 0, downstream.GetExecuteCalls())
	testutil.AssertStepReports(t, resp.Report, map[string]domain.StepStatus{
		"load":  domain.StepStatusFailed,
		"train": domain.StepStatusSkipped,
	})
}

func TestManagerFailureSkipsDependents(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		wantIndependent int
	}{
		{"stops at first failure", false, 0},
		{"continues independent steps", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testutil.CreateTestConfig()
			cfg.ContinueOnError = tt.continueOnError

			a := testutil.CreateSuccessfulStage("A", "A")
			b := testutil.CreateFailingStage("B", "B", nil, "A")
			c := testutil.CreateSuccessfulStage("C", "C", "B")
			d := testutil.CreateSuccessfulStage("D", "D", "C")
			independent := testutil.CreateSuccessfulStage("E", "E", "A")
			m, _ := newTestManager(t, cfg, a, b, c, d, independent)

			resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "skips"})
			require.Error(t, err)
			assert.Equal(t, operations.OperationStatusFailed, resp.Status)

			assert.Equal(t, 0, c.GetExecuteCalls())
			assert.Equal(t, 0, d.GetExecuteCalls())
			assert.Equal(t, tt.wantIndependent, independent.GetExecuteCalls())
			testutil.AssertStepReports(t, resp.Report, map[string]domain.StepStatus{
				"A": domain.StepStatusCompleted,
				"B": domain.StepStatusFailed,
				"C": domain.StepStatusSkipped,
				"D": domain.StepStatusSkipped,
			})

			if tt.continueOnError {
				var list *operations.ErrorList
				require.ErrorAs(t, err, &list)
				assert.Len(t, list.Errors, 1)
			}
		})
	}
}

func TestManagerStepTimeout(t *testing.T) {
	cfg := testutil.CreateTestConfig()
	cfg.SetStageTimeout("slow", 20*time.Millisecond)
	step := testutil.CreateSlowStage("slow", "Slow", time.Second)
	m, _ := newTestManager(t, cfg, step)

	start := time.Now()
	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "timeout"})
	require.Error(t, err)
	testutil.AssertErrorType(t, err, operations.ErrorTypeTimeout)
	assert.Equal(t, operations.OperationStatusFailed, resp.Status)
	assert.Equal(t, 1, step.GetExecuteCalls(), "timeouts are not retried")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestManagerCancelOperation(t *testing.T) {
	slow := testutil.CreateSlowStage("slow", "Slow", 5*time.Second)
	after := testutil.CreateSuccessfulStage("after", "After", "slow")
	m, hub := newTestManager(t, nil, slow, after)

	type result struct {
		resp *operations.OperationResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "cancel-me"})
		done <- result{resp, err}
	}()

	testutil.WaitForCondition(t, time.Second, 5*time.Millisecond, func() bool {
		return slow.GetExecuteCalls() == 1
	}, "slow step to start")

	state, err := m.GetOperation("cancel-me")
	require.NoError(t, err)
	assert.Equal(t, operations.OperationStatusRunning, state.GetStatus())

	require.NoError(t, m.CancelOperation("cancel-me"))

	select {
	case r := <-done:
		require.Error(t, r.err)
		assert.ErrorIs(t, r.err, context.Canceled)
		assert.Equal(t, operations.OperationStatusCancelled, r.resp.Status)
		assert.Equal(t, 0, after.GetExecuteCalls())
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not finish")
	}

	assert.ErrorIs(t, m.CancelOperation("cancel-me"), operations.ErrOperationNotRunning)
	assert.ErrorIs(t, m.CancelOperation("never-started"), operations.ErrOperationNotFound)

	_, err = m.GetOperation("cancel-me")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)

	report, err := m.GetReport("cancel-me")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, report.Status)
	assert.Equal(t, domain.RunStatusCancelled, hub.LastSnapshot("cancel-me").Status)
}

func TestManagerRejectsDuplicateActiveRun(t *testing.T) {
	slow := testutil.CreateSlowStage("slow", "Slow", 5*time.Second)
	m, _ := newTestManager(t, nil, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Execute(context.Background(), operations.OperationRequest{ID: "dup"})
	}()
	testutil.WaitForCondition(t, time.Second, 5*time.Millisecond, func() bool {
		return slow.GetExecuteCalls() == 1
	}, "first run to start")

	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "dup"})
	assert.Nil(t, resp)
	testutil.AssertErrorType(t, err, operations.ErrorTypeValidation)
	assert.Len(t, m.ListOperations(), 1)

	require.NoError(t, m.CancelOperation("dup"))
	<-done
}

func TestManagerDependencyCycle(t *testing.T) {
	m, _ := newTestManager(t, nil,
		testutil.CreateSuccessfulStage("a", "A", "b"),
		testutil.CreateSuccessfulStage("b", "B", "a"),
	)

	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "cycle"})
	require.Error(t, err)
	testutil.AssertErrorType(t, err, operations.ErrorTypeFatal)
	assert.Equal(t, operations.OperationStatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "cycle")
}

func TestManagerHistory(t *testing.T) {
	cfg := operations.NewConfigBuilder().WithHistorySize(2).Build()
	m, _ := newTestManager(t, cfg, testutil.CreateSuccessfulStage("only", "Only"))

	for _, id := range []string{"r1", "r2", "r3"} {
		_, err := m.Execute(context.Background(), operations.OperationRequest{ID: id})
		require.NoError(t, err)
	}

	_, err := m.GetReport("r1")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)

	reports := m.ListReports()
	require.Len(t, reports, 2)
	assert.Equal(t, "r3", reports[0].RunID)
	assert.Equal(t, "r2", reports[1].RunID)
}

func TestManagerWritesReport(t *testing.T) {
	tests := []struct {
		name     string
		step     *testutil.MockStage
		writeErr error
		want     domain.RunStatus
	}{
		{"completed run", testutil.CreateSuccessfulStage("only", "Only"), nil, domain.RunStatusCompleted},
		{"failed run", testutil.CreateFailingStage("only", "Only", nil), nil, domain.RunStatusFailed},
		{"write error does not fail the run", testutil.CreateSuccessfulStage("only", "Only"), errors.New("disk full"), domain.RunStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, nil, tt.step)

			writer := &testutil.MockReportWriter{}
			writer.On("WriteReport", mock.Anything, mock.MatchedBy(func(r *domain.RunReport) bool {
				return r.RunID == "reported" && r.Status == tt.want
			})).Return("/reports/reported/report.json", tt.writeErr).Once()
			m.SetReportWriter(writer)

			resp, _ := m.Execute(context.Background(), operations.OperationRequest{ID: "reported"})
			assert.Equal(t, tt.want, resp.Report.Status)
			writer.AssertExpectations(t)
		})
	}
}

func TestManagerStepStatesAndLogs(t *testing.T) {
	tests := []struct {
		name       string
		failB      bool
		wantStatus operations.OperationStatusValue
		wantErrors bool
	}{
		{"all steps complete", false, operations.OperationStatusCompleted, false},
		{"failure skips dependents", true, operations.OperationStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testutil.CreateSuccessfulStage("A", "A")
			b := testutil.CreateSuccessfulStage("B", "B", "A")
			if tt.failB {
				b = testutil.CreateFailingStage("B", "B", errors.New("broken"), "A")
			}
			c := testutil.CreateSuccessfulStage("C", "C", "B")

			logger, handler := testutil.CreateTestSlogLogger()
			m := operations.NewManager(nil, nil, testutil.CreateTestConfig(), logger)
			t.Cleanup(m.Shutdown)
			for _, s := range []*testutil.MockStage{a, b, c} {
				require.NoError(t, m.RegisterStage(s))
			}

			resp, _ := m.Execute(context.Background(), operations.OperationRequest{ID: "states"})
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.Status)
			testutil.AssertDuration(t, resp.Duration, 0, 5*time.Second)

			require.NotEmpty(t, a.ExecuteArgs)
			state := a.ExecuteArgs[0].State
			testutil.AssertStageCompleted(t, state, "A")
			if tt.failB {
				testutil.AssertStageFailed(t, state, "B")
				testutil.AssertStageSkipped(t, state, "C")
				assert.True(t, handler.HasAttr("step", "C"))
				assert.NotEmpty(t, handler.GetWarnRecords())
			} else {
				testutil.AssertStageCompleted(t, state, "B")
				testutil.AssertStageCompleted(t, state, "C")
				assert.Empty(t, handler.GetWarnRecords())
			}

			assert.Equal(t, tt.wantErrors, len(handler.GetErrorRecords()) > 0)
			assert.True(t, handler.HasMessage("operation_complete"))

			starts := 0
			for _, r := range handler.GetRecords() {
				if r.Message == "stage_start" {
					starts++
				}
			}
			assert.GreaterOrEqual(t, starts, 2)
			assert.Greater(t, handler.CountRecords(), starts)
		})
	}
}

func TestManagerValidatesBeforeExecute(t *testing.T) {
	var seen domain.RunRequest
	step := testutil.NewStageBuilder("check", "Check").
		WithValidate(func(state *operations.OperationState) error {
			v, ok := state.GetConfig(operations.ContextKeyRequest)
			if !ok {
				return errors.New("no request")
			}
			seen = v.(domain.RunRequest)
			return nil
		}).
		Build()

	m, hub := newTestManager(t, nil, step)

	_, err := m.Execute(context.Background(), operations.OperationRequest{ID: "first"})
	require.NoError(t, err)
	hub.Clear()
	assert.Empty(t, hub.GetMessages())

	req := testutil.CreateOperationRequest("data.txt")
	req.ID = "second"
	_, err = m.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, step.GetValidateCalls())
	assert.Equal(t, 2, step.GetExecuteCalls())
	assert.Equal(t, "data.txt", seen.DataPath)

	messages := hub.GetMessages()
	require.NotEmpty(t, messages)
	for _, msg := range messages {
		assert.Equal(t, "second", msg.Step)
	}
}
