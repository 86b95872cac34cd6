package workflow_test

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

func newTestQueue(t *testing.T) (*workflow.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	return workflow.NewQueue(redisClient), mr
}

func TestQueueDrainsInPriorityOrder(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	require.NoError(t, queue.Enqueue(ctx, "wf-routine", workflow.PriorityRoutine))
	require.NoError(t, queue.Enqueue(ctx, "wf-urgent", workflow.PriorityUrgent))
	require.NoError(t, queue.Enqueue(ctx, "wf-critical", workflow.PriorityCritical))

	var order []string
	for i := 0; i < 3; i++ {
		id, err := queue.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		order = append(order, id)
	}
	assert.Equal(t, []string{"wf-critical", "wf-urgent", "wf-routine"}, order)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	require.NoError(t, queue.Enqueue(ctx, "first", workflow.PriorityRoutine))
	require.NoError(t, queue.Enqueue(ctx, "second", workflow.PriorityRoutine))

	id, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	id, err = queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", id)
}

func TestDequeueReturnsEmptyOnTimeout(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	id, err := queue.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestQueueDepths(t *testing.T) {
	ctx := context.Background()
	queue, _ := newTestQueue(t)

	require.NoError(t, queue.Enqueue(ctx, "a", workflow.PriorityRoutine))
	require.NoError(t, queue.Enqueue(ctx, "b", workflow.PriorityRoutine))
	require.NoError(t, queue.Enqueue(ctx, "c", workflow.PriorityCritical))

	depths, err := queue.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths[workflow.PriorityRoutine])
	assert.Equal(t, int64(1), depths[workflow.PriorityCritical])
	assert.Equal(t, int64(0), depths[workflow.PriorityEmergent])
}
