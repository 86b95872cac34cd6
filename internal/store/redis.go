package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agenticai/healthguard/internal/workflow"
)

const (
	workflowKeyPrefix = "healthguard:workflow:"
	subjectKeyPrefix  = "healthguard:subject:"
	statusKeyPrefix   = "healthguard:status:"
	eventsChannel     = "healthguard:events"
)

// RedisResultStore keeps workflow records as JSON values and step
// outcomes in a per-workflow hash, so two concurrently finishing steps
// write disjoint hash fields and never clobber each other.
type RedisResultStore struct {
	redisClient *redis.Client
}

// NewRedisResultStore creates a Redis-backed result store
func NewRedisResultStore(redisClient *redis.Client) *RedisResultStore {
	return &RedisResultStore{redisClient: redisClient}
}

func workflowKey(workflowID string) string {
	return workflowKeyPrefix + workflowID
}

func outcomesKey(workflowID string) string {
	return workflowKeyPrefix + workflowID + ":outcomes"
}

func reportKey(workflowID string) string {
	return workflowKeyPrefix + workflowID + ":report"
}

func subjectKey(subjectID string) string {
	return subjectKeyPrefix + subjectID + ":workflows"
}

// SaveWorkflow writes the workflow record behind a WATCH on its key, so
// a cancellation landing between a caller's re-read and its save loses
// to the stored cancelled record with KindConflict instead of being
// silently overwritten. Outcomes are never written here; they belong to
// PutStepOutcome's hash.
func (s *RedisResultStore) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	save := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, workflowKey(wf.ID)).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read workflow %s: %w", wf.ID, err)
		}
		if err == nil && wf.Status != workflow.StatusCancelled {
			var stored workflow.Workflow
			if jerr := json.Unmarshal(current, &stored); jerr == nil && stored.Status == workflow.StatusCancelled {
				return workflow.Errorf(workflow.KindConflict, "workflow %s is cancelled", wf.ID)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, workflowKey(wf.ID), data, 0)
			pipe.SAdd(ctx, subjectKey(wf.SubjectID), wf.ID)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.redisClient.Watch(ctx, save, workflowKey(wf.ID))
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if workflow.IsKind(err, workflow.KindConflict) {
				return err
			}
			return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
		}
		return nil
	}
	return fmt.Errorf("failed to save workflow %s: %w", wf.ID, redis.TxFailedErr)
}

func (s *RedisResultStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	data, err := s.redisClient.Get(ctx, workflowKey(workflowID)).Bytes()
	if err == redis.Nil {
		return nil, workflow.Errorf(workflow.KindNotFound, "workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}
	if wf.StepOutcomes == nil {
		wf.StepOutcomes = make(map[string]*workflow.StepOutcome)
	}

	// The outcomes hash is authoritative: steps append there as they
	// finish, independent of workflow record saves.
	fields, err := s.redisClient.HGetAll(ctx, outcomesKey(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get outcomes for %s: %w", workflowID, err)
	}
	for name, raw := range fields {
		var outcome workflow.StepOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
			log.Printf("[RedisResultStore] Warning: skipping bad outcome %s/%s: %v", workflowID, name, err)
			continue
		}
		existing, ok := wf.StepOutcomes[name]
		if ok && existing.State.Terminal() && !outcome.State.Terminal() {
			continue
		}
		wf.StepOutcomes[name] = &outcome
	}
	return &wf, nil
}

func (s *RedisResultStore) PutStepOutcome(ctx context.Context, workflowID string, outcome *workflow.StepOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := s.redisClient.HSet(ctx, outcomesKey(workflowID), outcome.StepName, data).Err(); err != nil {
		return fmt.Errorf("failed to store outcome %s/%s: %w", workflowID, outcome.StepName, err)
	}
	return nil
}

func (s *RedisResultStore) PutReport(ctx context.Context, report *workflow.AggregatedReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	set, err := s.redisClient.SetNX(ctx, reportKey(report.WorkflowID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store report for %s: %w", report.WorkflowID, err)
	}
	if !set {
		return workflow.Errorf(workflow.KindConflict, "report already exists for workflow %s", report.WorkflowID)
	}
	return nil
}

func (s *RedisResultStore) GetReport(ctx context.Context, workflowID string) (*workflow.AggregatedReport, error) {
	data, err := s.redisClient.Get(ctx, reportKey(workflowID)).Bytes()
	if err == redis.Nil {
		return nil, workflow.Errorf(workflow.KindNotFound, "no report for workflow %s", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report for %s: %w", workflowID, err)
	}
	var report workflow.AggregatedReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report for %s: %w", workflowID, err)
	}
	return &report, nil
}

func (s *RedisResultStore) ListWorkflows(ctx context.Context, subjectID string) ([]*workflow.Workflow, error) {
	ids, err := s.redisClient.SMembers(ctx, subjectKey(subjectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows for subject %s: %w", subjectID, err)
	}
	var result []*workflow.Workflow
	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, id)
		if err != nil {
			if workflow.IsKind(err, workflow.KindNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, wf)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// PurgeOlderThan removes workflows, outcome hashes and reports for runs
// that reached a terminal state before the cutoff.
func (s *RedisResultStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	purged := 0
	var cursor uint64
	for {
		keys, next, err := s.redisClient.Scan(ctx, cursor, workflowKeyPrefix+"*", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("failed to scan workflows: %w", err)
		}
		for _, key := range keys {
			data, err := s.redisClient.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var wf workflow.Workflow
			if err := json.Unmarshal(data, &wf); err != nil {
				continue
			}
			if wf.CompletedAt == nil || !wf.CompletedAt.Before(cutoff) {
				continue
			}
			pipe := s.redisClient.TxPipeline()
			pipe.Del(ctx, workflowKey(wf.ID), outcomesKey(wf.ID), reportKey(wf.ID))
			pipe.SRem(ctx, subjectKey(wf.SubjectID), wf.ID)
			if _, err := pipe.Exec(ctx); err == nil {
				purged++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}

// RedisStatusStore keeps per-step progress records with TTL and pushes
// every write onto a pub/sub channel.
type RedisStatusStore struct {
	redisClient *redis.Client
}

// NewRedisStatusStore creates a Redis-backed status store
func NewRedisStatusStore(redisClient *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{redisClient: redisClient}
}

func stepStatusKey(workflowID, stepName string) string {
	return fmt.Sprintf("%s%s:%s", statusKeyPrefix, workflowID, stepName)
}

func workflowChannel(workflowID string) string {
	return eventsChannel + ":" + workflowID
}

func (s *RedisStatusStore) SetStepStatus(ctx context.Context, rec workflow.StatusRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal status record: %w", err)
	}
	if err := s.redisClient.Set(ctx, stepStatusKey(rec.WorkflowID, rec.StepName), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	// Publish failures degrade to polling; the record itself is the
	// source of truth.
	if err := s.redisClient.Publish(ctx, workflowChannel(rec.WorkflowID), data).Err(); err != nil {
		log.Printf("[RedisStatusStore] Warning: failed to publish status for %s: %v", rec.WorkflowID, err)
	}
	if err := s.redisClient.Publish(ctx, eventsChannel, data).Err(); err != nil {
		log.Printf("[RedisStatusStore] Warning: failed to publish firehose status: %v", err)
	}
	return nil
}

func (s *RedisStatusStore) GetStepStatus(ctx context.Context, workflowID, stepName string) (*workflow.StatusRecord, error) {
	data, err := s.redisClient.Get(ctx, stepStatusKey(workflowID, stepName)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	var rec workflow.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status record: %w", err)
	}
	return &rec, nil
}

// Subscribe streams status records for one workflow
func (s *RedisStatusStore) Subscribe(ctx context.Context, workflowID string) (<-chan workflow.StatusRecord, func(), error) {
	return s.subscribe(ctx, workflowChannel(workflowID))
}

// SubscribeAll streams status records for every workflow; the
// notification relay uses this to feed connected listeners.
func (s *RedisStatusStore) SubscribeAll(ctx context.Context) (<-chan workflow.StatusRecord, func(), error) {
	return s.subscribe(ctx, eventsChannel)
}

func (s *RedisStatusStore) subscribe(ctx context.Context, channel string) (<-chan workflow.StatusRecord, func(), error) {
	pubsub := s.redisClient.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan workflow.StatusRecord, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var rec workflow.StatusRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				log.Printf("[RedisStatusStore] Warning: dropping bad status message: %v", err)
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		pubsub.Close()
	}
	return out, stop, nil
}
