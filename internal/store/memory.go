package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agenticai/healthguard/internal/workflow"
)

// MemoryResultStore is an in-process ResultStore used by tests and
// single-node development setups.
type MemoryResultStore struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
	reports   map[string]*workflow.AggregatedReport
}

// NewMemoryResultStore creates an empty in-memory result store
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		workflows: make(map[string]*workflow.Workflow),
		reports:   make(map[string]*workflow.AggregatedReport),
	}
}

func (s *MemoryResultStore) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone, err := cloneWorkflow(wf)
	if err != nil {
		return err
	}
	if stored, ok := s.workflows[wf.ID]; ok {
		// Cancellation is sticky: once a record is cancelled, only
		// another cancelled save may replace it.
		if stored.Status == workflow.StatusCancelled && wf.Status != workflow.StatusCancelled {
			return workflow.Errorf(workflow.KindConflict, "workflow %s is cancelled", wf.ID)
		}
		// A save carrying stale outcome copies must not clobber an
		// outcome that already reached a terminal state.
		for name, outcome := range stored.StepOutcomes {
			incoming, ok := clone.StepOutcomes[name]
			if outcome.State.Terminal() && (!ok || !incoming.State.Terminal()) {
				clone.StepOutcomes[name] = outcome
			}
		}
	}
	s.workflows[wf.ID] = clone
	return nil
}

func (s *MemoryResultStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, workflow.Errorf(workflow.KindNotFound, "workflow %s not found", workflowID)
	}
	return cloneWorkflow(wf)
}

func (s *MemoryResultStore) PutStepOutcome(ctx context.Context, workflowID string, outcome *workflow.StepOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return workflow.Errorf(workflow.KindNotFound, "workflow %s not found", workflowID)
	}
	clone, err := cloneOutcome(outcome)
	if err != nil {
		return err
	}
	wf.StepOutcomes[outcome.StepName] = clone
	return nil
}

func (s *MemoryResultStore) PutReport(ctx context.Context, report *workflow.AggregatedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.WorkflowID]; exists {
		return workflow.Errorf(workflow.KindConflict, "report already exists for workflow %s", report.WorkflowID)
	}
	clone, err := cloneReport(report)
	if err != nil {
		return err
	}
	s.reports[report.WorkflowID] = clone
	return nil
}

func (s *MemoryResultStore) GetReport(ctx context.Context, workflowID string) (*workflow.AggregatedReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[workflowID]
	if !ok {
		return nil, workflow.Errorf(workflow.KindNotFound, "no report for workflow %s", workflowID)
	}
	return cloneReport(report)
}

func (s *MemoryResultStore) ListWorkflows(ctx context.Context, subjectID string) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*workflow.Workflow
	for _, wf := range s.workflows {
		if wf.SubjectID != subjectID {
			continue
		}
		clone, err := cloneWorkflow(wf)
		if err != nil {
			return nil, err
		}
		result = append(result, clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// PurgeOlderThan drops workflows (and their reports) that reached a
// terminal state before the cutoff.
func (s *MemoryResultStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, wf := range s.workflows {
		if wf.CompletedAt != nil && wf.CompletedAt.Before(cutoff) {
			delete(s.workflows, id)
			delete(s.reports, id)
			purged++
		}
	}
	return purged, nil
}

// Records cross the store boundary by value so callers can never alias
// the stored state.
func cloneWorkflow(wf *workflow.Workflow) (*workflow.Workflow, error) {
	var clone workflow.Workflow
	if err := roundTrip(wf, &clone); err != nil {
		return nil, err
	}
	if clone.StepOutcomes == nil {
		clone.StepOutcomes = make(map[string]*workflow.StepOutcome)
	}
	return &clone, nil
}

func cloneOutcome(outcome *workflow.StepOutcome) (*workflow.StepOutcome, error) {
	var clone workflow.StepOutcome
	if err := roundTrip(outcome, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func cloneReport(report *workflow.AggregatedReport) (*workflow.AggregatedReport, error) {
	var clone workflow.AggregatedReport
	if err := roundTrip(report, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func roundTrip(src, dst interface{}) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// MemoryStatusStore is an in-process StatusStore with TTL expiry and
// per-workflow subscriber channels.
type MemoryStatusStore struct {
	mu          sync.Mutex
	records     map[string]statusEntry
	subscribers map[string][]chan workflow.StatusRecord
}

type statusEntry struct {
	record    workflow.StatusRecord
	expiresAt time.Time
}

// NewMemoryStatusStore creates an empty in-memory status store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		records:     make(map[string]statusEntry),
		subscribers: make(map[string][]chan workflow.StatusRecord),
	}
}

// firehoseTopic keys the subscriber list that sees every record
const firehoseTopic = "*"

func statusKey(workflowID, stepName string) string {
	return workflowID + "/" + stepName
}

func (s *MemoryStatusStore) SetStepStatus(ctx context.Context, rec workflow.StatusRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := statusEntry{record: rec}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.records[statusKey(rec.WorkflowID, rec.StepName)] = entry
	for _, topic := range []string{rec.WorkflowID, firehoseTopic} {
		for _, ch := range s.subscribers[topic] {
			select {
			case ch <- rec:
			default:
				// At-most-once delivery: a slow subscriber misses the
				// push and re-polls.
			}
		}
	}
	return nil
}

func (s *MemoryStatusStore) GetStepStatus(ctx context.Context, workflowID, stepName string) (*workflow.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[statusKey(workflowID, stepName)]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(s.records, statusKey(workflowID, stepName))
		return nil, nil
	}
	rec := entry.record
	return &rec, nil
}

func (s *MemoryStatusStore) Subscribe(ctx context.Context, workflowID string) (<-chan workflow.StatusRecord, func(), error) {
	return s.subscribe(ctx, workflowID)
}

// SubscribeAll streams every status record regardless of workflow
func (s *MemoryStatusStore) SubscribeAll(ctx context.Context) (<-chan workflow.StatusRecord, func(), error) {
	return s.subscribe(ctx, firehoseTopic)
}

func (s *MemoryStatusStore) subscribe(ctx context.Context, workflowID string) (<-chan workflow.StatusRecord, func(), error) {
	ch := make(chan workflow.StatusRecord, 16)
	s.mu.Lock()
	s.subscribers[workflowID] = append(s.subscribers[workflowID], ch)
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			subs := s.subscribers[workflowID]
			for i, sub := range subs {
				if sub == ch {
					s.subscribers[workflowID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, stop, nil
}
