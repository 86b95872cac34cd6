package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue schedules workflows across one Redis list per priority. Dequeue
// pops atomically (BRPOP), so two consumers can never double-process the
// same workflow id.
type Queue struct {
	redisClient *redis.Client
}

// NewQueue creates a priority queue backed by Redis lists
func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{redisClient: redisClient}
}

func queueKey(p Priority) string {
	return fmt.Sprintf("healthguard:queue:%s", p)
}

// Enqueue places a workflow id on the queue matching its priority
func (q *Queue) Enqueue(ctx context.Context, workflowID string, priority Priority) error {
	if err := q.redisClient.LPush(ctx, queueKey(priority), workflowID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue workflow %s: %w", workflowID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next workflow id, draining queues
// in priority order. It returns "" when the timeout elapses with nothing
// queued.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	keys := make([]string, 0, len(Priorities))
	for _, p := range Priorities {
		keys = append(keys, queueKey(p))
	}
	result, err := q.redisClient.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue workflow: %w", err)
	}
	// BRPOP returns [key, value]
	if len(result) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}
	return result[1], nil
}

// Depths returns the current length of each priority queue
func (q *Queue) Depths(ctx context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(Priorities))
	for _, p := range Priorities {
		n, err := q.redisClient.LLen(ctx, queueKey(p)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read queue depth for %s: %w", p, err)
		}
		depths[p] = n
	}
	return depths, nil
}
