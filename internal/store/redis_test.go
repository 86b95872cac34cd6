package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticai/healthguard/internal/workflow"
)

func newRedisStores(t *testing.T) (*RedisResultStore, *RedisStatusStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	return NewRedisResultStore(redisClient), NewRedisStatusStore(redisClient), mr
}

func seedWorkflow(id, subject string, steps ...string) *workflow.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)
	wf := &workflow.Workflow{
		ID:             id,
		SubjectID:      subject,
		RequestedSteps: steps,
		Priority:       workflow.PriorityRoutine,
		Status:         workflow.StatusPending,
		StepOutcomes:   make(map[string]*workflow.StepOutcome, len(steps)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, name := range steps {
		wf.StepOutcomes[name] = &workflow.StepOutcome{
			WorkflowID: id,
			StepName:   name,
			State:      workflow.StepNotStarted,
		}
	}
	return wf
}

func TestRedisResultStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	results, _, _ := newRedisStores(t)

	wf := seedWorkflow("wf-1", "p1", "imaging", "history")
	require.NoError(t, results.SaveWorkflow(ctx, wf))

	got, err := results.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, wf.SubjectID, got.SubjectID)
	assert.Equal(t, wf.RequestedSteps, got.RequestedSteps)
	require.Len(t, got.StepOutcomes, 2)
	assert.Equal(t, workflow.StepNotStarted, got.StepOutcomes["imaging"].State)
}

func TestRedisGetWorkflowNotFound(t *testing.T) {
	results, _, _ := newRedisStores(t)

	_, err := results.GetWorkflow(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, workflow.IsKind(err, workflow.KindNotFound))
}

func TestRedisOutcomeHashIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	results, _, _ := newRedisStores(t)

	wf := seedWorkflow("wf-1", "p1", "imaging", "history")
	require.NoError(t, results.SaveWorkflow(ctx, wf))

	// A step finishing writes only its hash field
	conf := 0.9
	now := time.Now().UTC()
	require.NoError(t, results.PutStepOutcome(ctx, "wf-1", &workflow.StepOutcome{
		WorkflowID: "wf-1",
		StepName:   "imaging",
		State:      workflow.StepSucceeded,
		Payload:    map[string]interface{}{"impression": "clear"},
		Confidence: &conf,
		FinishedAt: &now,
	}))

	// A stale workflow record save must not clobber the finished outcome
	require.NoError(t, results.SaveWorkflow(ctx, wf))

	got, err := results.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	imaging := got.StepOutcomes["imaging"]
	assert.Equal(t, workflow.StepSucceeded, imaging.State)
	require.NotNil(t, imaging.Confidence)
	assert.InDelta(t, 0.9, *imaging.Confidence, 1e-9)
	assert.Equal(t, workflow.StepNotStarted, got.StepOutcomes["history"].State)
}

func TestRedisCancelledIsSticky(t *testing.T) {
	ctx := context.Background()
	results, _, _ := newRedisStores(t)

	wf := seedWorkflow("wf-1", "p1", "imaging")
	require.NoError(t, results.SaveWorkflow(ctx, wf))
	wf.Status = workflow.StatusCancelled
	require.NoError(t, results.SaveWorkflow(ctx, wf))

	// A racing caller still holding a pre-cancellation copy loses
	stale := seedWorkflow("wf-1", "p1", "imaging")
	stale.Status = workflow.StatusCompleted
	err := results.SaveWorkflow(ctx, stale)
	require.Error(t, err)
	assert.True(t, workflow.IsKind(err, workflow.KindConflict))

	got, err := results.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, got.Status)
}

func TestRedisReportWriteOnce(t *testing.T) {
	ctx := context.Background()
	results, _, _ := newRedisStores(t)

	report := &workflow.AggregatedReport{
		WorkflowID:       "wf-1",
		SubjectID:        "p1",
		GeneratedAt:      time.Now().UTC(),
		PerStepSummaries: map[string]workflow.Summary{"imaging": {"type": "imaging"}},
		FailedSteps:      []string{},
	}
	require.NoError(t, results.PutReport(ctx, report))

	err := results.PutReport(ctx, report)
	require.Error(t, err)
	assert.True(t, workflow.IsKind(err, workflow.KindConflict))

	got, err := results.GetReport(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.SubjectID)
	assert.Contains(t, got.PerStepSummaries, "imaging")
}

func TestRedisListWorkflowsBySubject(t *testing.T) {
	ctx := context.Background()
	results, _, _ := newRedisStores(t)

	require.NoError(t, results.SaveWorkflow(ctx, seedWorkflow("wf-1", "p1", "imaging")))
	require.NoError(t, results.SaveWorkflow(ctx, seedWorkflow("wf-2", "p1", "imaging")))
	require.NoError(t, results.SaveWorkflow(ctx, seedWorkflow("wf-3", "p2", "imaging")))

	list, err := results.ListWorkflows(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, wf := range list {
		assert.Equal(t, "p1", wf.SubjectID)
	}
}

func TestRedisPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	results, _, _ := newRedisStores(t)

	old := seedWorkflow("wf-old", "p1", "imaging")
	finished := time.Now().UTC().Add(-48 * time.Hour)
	old.Status = workflow.StatusCompleted
	old.CompletedAt = &finished
	require.NoError(t, results.SaveWorkflow(ctx, old))

	fresh := seedWorkflow("wf-fresh", "p1", "imaging")
	require.NoError(t, results.SaveWorkflow(ctx, fresh))

	purged, err := results.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = results.GetWorkflow(ctx, "wf-old")
	assert.True(t, workflow.IsKind(err, workflow.KindNotFound))
	_, err = results.GetWorkflow(ctx, "wf-fresh")
	assert.NoError(t, err)
}

func TestRedisStatusStoreTTL(t *testing.T) {
	ctx := context.Background()
	_, status, mr := newRedisStores(t)

	rec := workflow.StatusRecord{
		WorkflowID: "wf-1",
		StepName:   "imaging",
		Status:     string(workflow.StepRunning),
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, status.SetStepStatus(ctx, rec, time.Minute))

	got, err := status.GetStepStatus(ctx, "wf-1", "imaging")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, string(workflow.StepRunning), got.Status)

	// Past the TTL the record is gone; absence is not an error
	mr.FastForward(2 * time.Minute)
	got, err = status.GetStepStatus(ctx, "wf-1", "imaging")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStatusSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, status, _ := newRedisStores(t)

	records, stop, err := status.Subscribe(ctx, "wf-1")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, status.SetStepStatus(ctx, workflow.StatusRecord{
		WorkflowID: "wf-1",
		StepName:   "imaging",
		Status:     string(workflow.StepSucceeded),
		Timestamp:  time.Now().UTC(),
	}, time.Minute))

	// A record for a different workflow must not arrive on this channel
	require.NoError(t, status.SetStepStatus(ctx, workflow.StatusRecord{
		WorkflowID: "wf-other",
		Status:     string(workflow.StatusCompleted),
		Timestamp:  time.Now().UTC(),
	}, time.Minute))

	select {
	case rec := <-records:
		assert.Equal(t, "wf-1", rec.WorkflowID)
		assert.Equal(t, string(workflow.StepSucceeded), rec.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status record")
	}

	select {
	case rec := <-records:
		t.Fatalf("unexpected record for %s", rec.WorkflowID)
	case <-time.After(100 * time.Millisecond):
	}
}
