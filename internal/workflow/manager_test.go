package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticai/healthguard/internal/store"
	"github.com/agenticai/healthguard/internal/workflow"
)

type managerEnv struct {
	manager *workflow.Manager
	results *store.MemoryResultStore
	redis   *miniredis.Miniredis
}

func newManagerEnv(t *testing.T, steps ...*stubStep) *managerEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	registry := workflow.NewRegistry()
	for _, s := range steps {
		require.NoError(t, registry.Register(s))
	}

	results := store.NewMemoryResultStore()
	status := store.NewMemoryStatusStore()
	queue := workflow.NewQueue(redisClient)

	return &managerEnv{
		manager: workflow.NewManager(registry, results, status, queue, time.Minute),
		results: results,
		redis:   mr,
	}
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"})

	cases := []struct {
		name string
		req  workflow.CreateRequest
	}{
		{"missing subject", workflow.CreateRequest{RequestedSteps: []string{"imaging"}}},
		{"no steps", workflow.CreateRequest{SubjectID: "p1"}},
		{"unknown step", workflow.CreateRequest{SubjectID: "p1", RequestedSteps: []string{"sequencing"}}},
		{"unknown priority", workflow.CreateRequest{SubjectID: "p1", RequestedSteps: []string{"imaging"}, Priority: "whenever"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.manager.Create(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, workflow.KindInvalidRequest, workflow.KindOf(err))
		})
	}
}

func TestCreatePersistsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"}, &stubStep{name: "history"})

	id, err := env.manager.Create(ctx, workflow.CreateRequest{
		SubjectID:      "p1",
		RequestedSteps: []string{"imaging", "history", "imaging"},
		Priority:       workflow.PriorityCritical,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	wf, err := env.results.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, wf.Status)
	assert.Equal(t, []string{"imaging", "history"}, wf.RequestedSteps, "duplicates collapse")
	for _, name := range wf.RequestedSteps {
		require.Contains(t, wf.StepOutcomes, name)
		assert.Equal(t, workflow.StepNotStarted, wf.StepOutcomes[name].State)
	}

	queued, err := env.redis.List("healthguard:queue:critical")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, queued)
}

func TestCreateDefaultsToRoutinePriority(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"})

	id, err := env.manager.Create(ctx, workflow.CreateRequest{
		SubjectID:      "p1",
		RequestedSteps: []string{"imaging"},
	})
	require.NoError(t, err)

	queued, err := env.redis.List("healthguard:queue:routine")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, queued)
}

func TestConcurrentCreatesForSameSubjectAreIndependent(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"}, &stubStep{name: "history"})

	ids := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = env.manager.Create(ctx, workflow.CreateRequest{
				SubjectID:      "p1",
				RequestedSteps: []string{"imaging", "history"},
			})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotEqual(t, ids[0], ids[1], "each create gets its own workflow id")

	// Finishing a step of the first run leaves the second untouched
	require.NoError(t, env.results.PutStepOutcome(ctx, ids[0], &workflow.StepOutcome{
		WorkflowID: ids[0],
		StepName:   "imaging",
		State:      workflow.StepSucceeded,
	}))

	first, err := env.results.GetWorkflow(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, workflow.StepSucceeded, first.StepOutcomes["imaging"].State)

	second, err := env.results.GetWorkflow(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, workflow.StepNotStarted, second.StepOutcomes["imaging"].State)
	assert.Equal(t, workflow.StepNotStarted, second.StepOutcomes["history"].State)

	list, err := env.manager.ListForSubject(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStatusReportsProgressFraction(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"}, &stubStep{name: "history"})

	id, err := env.manager.Create(ctx, workflow.CreateRequest{
		SubjectID:      "p1",
		RequestedSteps: []string{"imaging", "history"},
	})
	require.NoError(t, err)

	view, err := env.manager.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, view.Status)
	assert.Zero(t, view.Progress)
	assert.ElementsMatch(t, []string{"imaging", "history"}, view.PendingSteps)

	// Finish one of two steps
	wf, err := env.results.GetWorkflow(ctx, id)
	require.NoError(t, err)
	wf.StepOutcomes["imaging"].State = workflow.StepSucceeded
	require.NoError(t, env.results.SaveWorkflow(ctx, wf))

	view, err = env.manager.Status(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, view.Progress, 1e-9)
	assert.Equal(t, []string{"history"}, view.PendingSteps)
}

func TestStatusUnknownWorkflow(t *testing.T) {
	env := newManagerEnv(t, &stubStep{name: "imaging"})

	_, err := env.manager.Status(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))
}

func TestResultsBeforeCompletionIsNotReady(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"})

	id, err := env.manager.Create(ctx, workflow.CreateRequest{
		SubjectID:      "p1",
		RequestedSteps: []string{"imaging"},
	})
	require.NoError(t, err)

	_, err = env.manager.Results(ctx, id)
	require.Error(t, err)
	assert.Equal(t, workflow.KindNotReady, workflow.KindOf(err))
}

func TestResultsForFailedWorkflowReturnPartialReport(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"}, &stubStep{name: "history"})

	id, err := env.manager.Create(ctx, workflow.CreateRequest{
		SubjectID:      "p1",
		RequestedSteps: []string{"imaging", "history"},
	})
	require.NoError(t, err)

	wf, err := env.results.GetWorkflow(ctx, id)
	require.NoError(t, err)
	wf.Status = workflow.StatusFailed
	wf.Error = "store write failed"
	require.NoError(t, env.results.SaveWorkflow(ctx, wf))

	// A failure before any step finished has nothing to return
	_, err = env.manager.Results(ctx, id)
	require.Error(t, err)
	assert.Equal(t, workflow.KindNotReady, workflow.KindOf(err))

	require.NoError(t, env.results.PutReport(ctx, &workflow.AggregatedReport{
		WorkflowID:       id,
		SubjectID:        "p1",
		GeneratedAt:      time.Now().UTC(),
		PerStepSummaries: map[string]workflow.Summary{"imaging": {"type": "imaging"}},
		FailedSteps:      []string{"history"},
		Partial:          true,
	}))

	report, err := env.manager.Results(ctx, id)
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Contains(t, report.PerStepSummaries, "imaging")
	assert.Equal(t, []string{"history"}, report.FailedSteps)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"}, &stubStep{name: "history"})

	id, err := env.manager.Create(ctx, workflow.CreateRequest{
		SubjectID:      "p1",
		RequestedSteps: []string{"imaging", "history"},
	})
	require.NoError(t, err)

	cancelled, err := env.manager.Cancel(ctx, id, "dr-jones")
	require.NoError(t, err)
	assert.True(t, cancelled)

	wf, err := env.results.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, wf.Status)
	assert.Equal(t, "dr-jones", wf.CancelledBy)
	require.NotNil(t, wf.CompletedAt)
	for _, name := range wf.RequestedSteps {
		assert.Equal(t, workflow.StepSkipped, wf.StepOutcomes[name].State)
	}

	// Second cancel is a no-op, not an error
	cancelled, err = env.manager.Cancel(ctx, id, "dr-jones")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelUnknownWorkflow(t *testing.T) {
	env := newManagerEnv(t, &stubStep{name: "imaging"})

	_, err := env.manager.Cancel(context.Background(), "no-such-id", "dr-jones")
	require.Error(t, err)
	assert.Equal(t, workflow.KindNotFound, workflow.KindOf(err))
}

func TestListForSubject(t *testing.T) {
	ctx := context.Background()
	env := newManagerEnv(t, &stubStep{name: "imaging"})

	first, err := env.manager.Create(ctx, workflow.CreateRequest{SubjectID: "p1", RequestedSteps: []string{"imaging"}})
	require.NoError(t, err)
	_, err = env.manager.Create(ctx, workflow.CreateRequest{SubjectID: "p2", RequestedSteps: []string{"imaging"}})
	require.NoError(t, err)

	list, err := env.manager.ListForSubject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first, list[0].ID)
}
