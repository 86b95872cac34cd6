package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStep struct {
	name string
	deps []string
}

func (f *fakeStep) Name() string            { return f.name }
func (f *fakeStep) Dependencies() []string  { return f.deps }
func (f *fakeStep) Condense(map[string]interface{}) Summary {
	return Summary{"type": f.name}
}
func (f *fakeStep) Execute(ctx context.Context, bundle InputBundle, deps map[string]*StepOutcome) (*StepResult, error) {
	return &StepResult{Payload: map[string]interface{}{}}, nil
}

func newTestRegistry(t *testing.T, steps ...*fakeStep) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range steps {
		require.NoError(t, r.Register(s))
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeStep{name: "a"}))
	assert.Error(t, r.Register(&fakeStep{name: "a"}))
	assert.Error(t, r.Register(&fakeStep{name: ""}))
}

func TestPlanOrdersByDependencies(t *testing.T) {
	r := newTestRegistry(t,
		&fakeStep{name: "imaging"},
		&fakeStep{name: "history"},
		&fakeStep{name: "decision", deps: []string{"imaging", "history"}},
	)

	groups, err := r.Plan([]string{"decision", "imaging", "history"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"history", "imaging"}, groups[0])
	assert.Equal(t, []string{"decision"}, groups[1])
}

func TestPlanIgnoresUnrequestedDependencies(t *testing.T) {
	r := newTestRegistry(t,
		&fakeStep{name: "imaging"},
		&fakeStep{name: "decision", deps: []string{"imaging", "history"}},
	)

	// history is not requested, so decision only waits on imaging
	groups, err := r.Plan([]string{"imaging", "decision"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"imaging"}, groups[0])
	assert.Equal(t, []string{"decision"}, groups[1])
}

func TestPlanRejectsUnknownStep(t *testing.T) {
	r := newTestRegistry(t, &fakeStep{name: "imaging"})

	_, err := r.Plan([]string{"imaging", "nope"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestPlanRejectsCycles(t *testing.T) {
	r := newTestRegistry(t,
		&fakeStep{name: "a", deps: []string{"b"}},
		&fakeStep{name: "b", deps: []string{"a"}},
	)

	_, err := r.Plan([]string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestPlanSingleStep(t *testing.T) {
	r := newTestRegistry(t, &fakeStep{name: "imaging"})

	groups, err := r.Plan([]string{"imaging"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"imaging"}}, groups)
}
