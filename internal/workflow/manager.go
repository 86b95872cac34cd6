package workflow

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agenticai/healthguard/pkg/metrics"
)

// Manager owns the caller-facing workflow operations: creation,
// status/results queries and cancellation. Execution itself is driven by
// the worker pool through the Orchestrator.
type Manager struct {
	registry  *Registry
	results   ResultStore
	status    StatusStore
	queue     *Queue
	statusTTL time.Duration
}

// NewManager creates a workflow manager
func NewManager(registry *Registry, results ResultStore, status StatusStore, queue *Queue, statusTTL time.Duration) *Manager {
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &Manager{
		registry:  registry,
		results:   results,
		status:    status,
		queue:     queue,
		statusTTL: statusTTL,
	}
}

// Create validates the request, persists a pending workflow and places it
// on the queue matching its priority. It returns immediately without
// waiting on any step.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	if req.SubjectID == "" {
		return "", Errorf(KindInvalidRequest, "subject_id is required")
	}
	if len(req.RequestedSteps) == 0 {
		return "", Errorf(KindInvalidRequest, "at least one step is required")
	}
	if req.Priority == "" {
		req.Priority = PriorityRoutine
	}
	if !req.Priority.Valid() {
		return "", Errorf(KindInvalidRequest, "unknown priority %q", req.Priority)
	}

	// Deduplicate while preserving request order
	steps := make([]string, 0, len(req.RequestedSteps))
	seen := make(map[string]bool, len(req.RequestedSteps))
	for _, name := range req.RequestedSteps {
		if seen[name] {
			continue
		}
		seen[name] = true
		steps = append(steps, name)
	}

	// Plan validates step resolvability and rejects dependency cycles
	if _, err := m.registry.Plan(steps); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	wf := &Workflow{
		ID:             uuid.New().String(),
		SubjectID:      req.SubjectID,
		RequestedSteps: steps,
		Priority:       req.Priority,
		Status:         StatusPending,
		Context:        req.Context,
		StepOutcomes:   make(map[string]*StepOutcome, len(steps)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, name := range steps {
		wf.StepOutcomes[name] = &StepOutcome{
			WorkflowID: wf.ID,
			StepName:   name,
			State:      StepNotStarted,
		}
	}

	if err := m.results.SaveWorkflow(ctx, wf); err != nil {
		return "", WrapErr(KindOrchestratorFault, err, "failed to persist workflow")
	}
	if err := m.queue.Enqueue(ctx, wf.ID, wf.Priority); err != nil {
		return "", WrapErr(KindOrchestratorFault, err, "failed to enqueue workflow")
	}

	if err := m.status.SetStepStatus(ctx, StatusRecord{
		WorkflowID: wf.ID,
		Status:     string(StatusPending),
		Timestamp:  now,
	}, m.statusTTL); err != nil {
		log.Printf("[Manager] Warning: failed to publish pending status for %s: %v", wf.ID, err)
	}

	metrics.WorkflowCreated(string(wf.Priority))
	log.Printf("[Manager] Created workflow %s for subject %s with steps %v", wf.ID, wf.SubjectID, steps)
	return wf.ID, nil
}

// Status returns the current state, progress fraction and remaining steps
// of a workflow
func (m *Manager) Status(ctx context.Context, workflowID string) (*StatusView, error) {
	wf, err := m.results.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	progress := 0.0
	if len(wf.RequestedSteps) > 0 {
		progress = float64(wf.TerminalStepCount()) / float64(len(wf.RequestedSteps))
	}
	return &StatusView{
		WorkflowID:   wf.ID,
		Status:       wf.Status,
		Progress:     progress,
		PendingSteps: wf.PendingSteps(),
		CreatedAt:    wf.CreatedAt,
		CompletedAt:  wf.CompletedAt,
	}, nil
}

// Results returns the aggregated report of a completed workflow. A
// failed workflow may still have produced a partial report from the
// steps that finished before the fault; that report is returned with
// its partial flag set instead of hiding the finished work.
func (m *Manager) Results(ctx context.Context, workflowID string) (*AggregatedReport, error) {
	wf, err := m.results.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	switch wf.Status {
	case StatusCompleted:
		return m.results.GetReport(ctx, workflowID)
	case StatusFailed:
		report, err := m.results.GetReport(ctx, workflowID)
		if IsKind(err, KindNotFound) {
			return nil, Errorf(KindNotReady, "workflow %s failed before producing any results", workflowID)
		}
		if err != nil {
			return nil, err
		}
		report.Partial = true
		return report, nil
	default:
		return nil, Errorf(KindNotReady, "workflow %s is %s, results are available once completed", workflowID, wf.Status)
	}
}

// Cancel requests cooperative cancellation. It only succeeds while the
// workflow is pending, initializing or running; repeated or late calls
// return false instead of erroring. Steps not yet started are marked
// skipped immediately; a step already mid-execution finishes and has its
// outcome recorded, but no aggregation happens.
func (m *Manager) Cancel(ctx context.Context, workflowID, requester string) (bool, error) {
	wf, err := m.results.GetWorkflow(ctx, workflowID)
	if err != nil {
		return false, err
	}
	switch wf.Status {
	case StatusPending, StatusInitializing, StatusRunning:
	default:
		return false, nil
	}

	now := time.Now().UTC()
	wf.Status = StatusCancelled
	wf.CancelledBy = requester
	wf.UpdatedAt = now
	wf.CompletedAt = &now
	var skipped []*StepOutcome
	for _, outcome := range wf.StepOutcomes {
		if outcome.State == StepNotStarted {
			outcome.State = StepSkipped
			outcome.FinishedAt = &now
			skipped = append(skipped, outcome)
		}
	}
	if err := m.results.SaveWorkflow(ctx, wf); err != nil {
		return false, WrapErr(KindOrchestratorFault, err, "failed to persist cancellation")
	}
	// Skip markings go through the outcome write path so backends that
	// keep outcomes separate from the workflow record stay consistent.
	for _, outcome := range skipped {
		if err := m.results.PutStepOutcome(ctx, wf.ID, outcome); err != nil {
			log.Printf("[Manager] Warning: failed to persist skipped outcome %s/%s: %v", wf.ID, outcome.StepName, err)
		}
	}

	if err := m.status.SetStepStatus(ctx, StatusRecord{
		WorkflowID: wf.ID,
		Status:     string(StatusCancelled),
		Message:    "cancelled by " + requester,
		Timestamp:  now,
	}, m.statusTTL); err != nil {
		log.Printf("[Manager] Warning: failed to publish cancelled status for %s: %v", wf.ID, err)
	}

	log.Printf("[Manager] Workflow %s cancelled by %s", wf.ID, requester)
	return true, nil
}

// ListForSubject returns all workflows recorded for one subject
func (m *Manager) ListForSubject(ctx context.Context, subjectID string) ([]*Workflow, error) {
	return m.results.ListWorkflows(ctx, subjectID)
}
