package operations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catpipe/internal/operations"
	"catpipe/internal/operations/testutil"
	"catpipe/pkg/contracts/domain"
)

func TestRegistryRegister(t *testing.T) {
	registry := operations.NewRegistry()

	stage1 := testutil.CreateSuccessfulStage("stage1", "Step 1")
	stage2 := testutil.CreateSuccessfulStage("stage2", "Step 2")
	stage3 := testutil.CreateSuccessfulStage("stage3", "Step 3")

	require.NoError(t, registry.Register(stage1))
	require.NoError(t, registry.Register(stage2))
	require.NoError(t, registry.Register(stage3))

	assert.Equal(t, 3, registry.Count())
	assert.True(t, registry.Has("stage2"))
	assert.Equal(t, []string{"stage1", "stage2", "stage3"}, registry.ListIDs())

	got, err := registry.Get("stage1")
	require.NoError(t, err)
	assert.Same(t, stage1, got)

	_, err = registry.Get("missing")
	assert.ErrorContains(t, err, "not found")
}

func TestRegistryRegisterErrors(t *testing.T) {
	registry := operations.NewRegistry()

	assert.ErrorContains(t, registry.Register(nil), "nil step")
	assert.ErrorContains(t, registry.Register(&testutil.MockStage{NameValue: "no id"}), "ID cannot be empty")

	step := testutil.CreateSuccessfulStage("dup", "Duplicate")
	require.NoError(t, registry.Register(step))
	assert.ErrorContains(t, registry.Register(step), "already registered")
}

func TestRegistryDependencyOrder(t *testing.T) {
	tests := []struct {
		name    string
		steps   []*testutil.MockStage
		want    []string
		wantErr string
	}{
		{
			name: "linear chain registered backwards",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("c", "C", "b"),
				testutil.CreateSuccessfulStage("b", "B", "a"),
				testutil.CreateSuccessfulStage("a", "A"),
			},
			want: []string{"a", "b", "c"},
		},
		{
			name:  "diamond keeps registration order among ready steps",
			steps: testutil.CreateComplexPipelineStages(),
			want:  []string{"A", "B", "C", "D"},
		},
		{
			name: "earliest registered ready step runs first",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("load", "Load"),
				testutil.CreateSuccessfulStage("analyze", "Analyze", "load"),
				testutil.CreateSuccessfulStage("split", "Split", "load"),
				testutil.CreateSuccessfulStage("train", "Train", "split"),
				testutil.CreateSuccessfulStage("evaluate", "Evaluate", "train"),
				testutil.CreateSuccessfulStage("export", "Export", "analyze", "split"),
			},
			want: []string{"load", "analyze", "split", "train", "evaluate", "export"},
		},
		{
			name: "missing dependency",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("a", "A", "ghost"),
			},
			wantErr: "non-existent step ghost",
		},
		{
			name: "cycle",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("a", "A", "b"),
				testutil.CreateSuccessfulStage("b", "B", "a"),
			},
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := operations.NewRegistry()
			for _, s := range tt.steps {
				require.NoError(t, registry.Register(s))
			}

			ordered, err := registry.GetDependencyOrder()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Error(t, registry.ValidateDependencies())
				return
			}
			require.NoError(t, err)

			ids := make([]string, len(ordered))
			for i, s := range ordered {
				ids[i] = s.ID()
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRegistryDescribeAndDependents(t *testing.T) {
	registry := operations.NewRegistry()
	for _, s := range testutil.CreateComplexPipelineStages() {
		require.NoError(t, registry.Register(s))
	}

	descriptors, err := registry.Describe()
	require.NoError(t, err)
	require.Len(t, descriptors, 4)
	assert.Equal(t, "D", descriptors[3].ID)
	assert.Equal(t, []string{"B", "C"}, descriptors[3].Dependencies)

	dependents := registry.GetDependents("A")
	require.Len(t, dependents, 2)
	assert.Equal(t, "B", dependents[0].ID())
	assert.Equal(t, "C", dependents[1].ID())
	assert.Empty(t, registry.GetDependents("D"))
}

func TestRegistryIndependentSteps(t *testing.T) {
	registry := testutil.CreateTestRegistry()
	assert.Equal(t, 3, registry.Count())
	require.NoError(t, registry.ValidateDependencies())

	m := operations.NewManager(nil, registry, testutil.CreateTestConfig(), nil)
	defer m.Shutdown()

	resp, err := m.Execute(context.Background(), operations.OperationRequest{ID: "registry"})
	require.NoError(t, err)
	testutil.AssertStepReports(t, resp.Report, map[string]domain.StepStatus{
		"stage1": domain.StepStatusCompleted,
		"stage2": domain.StepStatusCompleted,
		"stage3": domain.StepStatusCompleted,
	})
}
