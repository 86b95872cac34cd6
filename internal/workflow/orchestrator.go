package workflow

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/agenticai/healthguard/pkg/metrics"
)

// DefaultStatusTTL bounds how long a progress record survives in the
// status store without being refreshed.
const DefaultStatusTTL = 15 * time.Minute

// errCancelled signals cooperative cancellation between dependency groups.
var errCancelled = errors.New("workflow cancelled")

// Orchestrator drives one workflow at a time through its state machine:
// it fans the requested steps out group by group, records every outcome
// independently and aggregates the terminal outcomes into one report.
// Exactly one Run per workflow id is active at any time; the queue
// consumer model enforces that, so workflow mutation needs no locking.
type Orchestrator struct {
	registry  *Registry
	results   ResultStore
	status    StatusStore
	statusTTL time.Duration
}

// NewOrchestrator creates a workflow orchestrator
func NewOrchestrator(registry *Registry, results ResultStore, status StatusStore, statusTTL time.Duration) *Orchestrator {
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	return &Orchestrator{
		registry:  registry,
		results:   results,
		status:    status,
		statusTTL: statusTTL,
	}
}

// Run executes a dequeued workflow to a terminal state. Step failures are
// captured into their own outcomes and never abort the run; only
// orchestrator-level faults (store writes failing) transition the
// workflow to failed.
func (o *Orchestrator) Run(ctx context.Context, workflowID string) error {
	wf, err := o.results.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	if wf.Status == StatusCancelled {
		log.Printf("[Orchestrator] Workflow %s was cancelled before execution, skipping", workflowID)
		return nil
	}
	if wf.Status != StatusPending {
		log.Printf("[Orchestrator] Workflow %s is %s, nothing to run", workflowID, wf.Status)
		return nil
	}

	log.Printf("[Orchestrator] Starting workflow %s (%d steps, priority %s)", wf.ID, len(wf.RequestedSteps), wf.Priority)
	metrics.WorkflowStarted(string(wf.Priority))

	if err := o.transition(ctx, wf, StatusInitializing); err != nil {
		if errors.Is(err, errCancelled) {
			return nil
		}
		return o.fail(ctx, wf, err)
	}

	groups, err := o.registry.Plan(wf.RequestedSteps)
	if err != nil {
		// Requested steps were validated at create time; a plan failure
		// here means the registry changed underneath us.
		return o.fail(ctx, wf, err)
	}

	now := time.Now().UTC()
	wf.StartedAt = &now
	if err := o.transition(ctx, wf, StatusRunning); err != nil {
		if errors.Is(err, errCancelled) {
			return nil
		}
		return o.fail(ctx, wf, err)
	}

	bundle := InputBundle{
		WorkflowID: wf.ID,
		SubjectID:  wf.SubjectID,
		Context:    wf.Context,
	}

	for _, group := range groups {
		if cancelled, err := o.observeCancellation(ctx, wf.ID); err != nil {
			return o.fail(ctx, wf, err)
		} else if cancelled {
			log.Printf("[Orchestrator] Workflow %s cancelled, stopping before group %v", wf.ID, group)
			return nil
		}
		if err := o.runGroup(ctx, wf, group, bundle); err != nil {
			return o.fail(ctx, wf, err)
		}
	}

	if err := o.transition(ctx, wf, StatusAggregating); err != nil {
		if errors.Is(err, errCancelled) {
			return nil
		}
		return o.fail(ctx, wf, err)
	}

	report := o.buildReport(wf)
	if err := o.results.PutReport(ctx, report); err != nil {
		return o.fail(ctx, wf, WrapErr(KindOrchestratorFault, err, "failed to persist report"))
	}

	done := time.Now().UTC()
	wf.CompletedAt = &done
	if err := o.transition(ctx, wf, StatusCompleted); err != nil {
		if errors.Is(err, errCancelled) {
			return nil
		}
		return o.fail(ctx, wf, err)
	}

	o.publish(ctx, StatusRecord{
		WorkflowID: wf.ID,
		Status:     string(StatusCompleted),
		Timestamp:  done,
	})
	metrics.WorkflowCompleted(string(StatusCompleted))
	log.Printf("[Orchestrator] Workflow %s completed (%d failed steps)", wf.ID, len(report.FailedSteps))
	return nil
}

// runGroup launches every step of one dependency group concurrently and
// joins on the whole group. One step's failure never cancels siblings.
func (o *Orchestrator) runGroup(ctx context.Context, wf *Workflow, group []string, bundle InputBundle) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var storeErr error

	for _, name := range group {
		step, ok := o.registry.Resolve(name)
		if !ok {
			return Errorf(KindOrchestratorFault, "step %q vanished from registry", name)
		}
		outcome := wf.StepOutcomes[name]

		if blocker, blocked := o.blockedBy(wf, step); blocked {
			now := time.Now().UTC()
			outcome.State = StepSkipped
			outcome.FinishedAt = &now
			if err := o.results.PutStepOutcome(ctx, wf.ID, outcome); err != nil {
				return WrapErr(KindOrchestratorFault, err, "failed to persist skipped outcome")
			}
			o.publish(ctx, StatusRecord{
				WorkflowID: wf.ID,
				StepName:   name,
				Status:     string(StepSkipped),
				Message:    "dependency " + blocker + " did not succeed",
				Timestamp:  now,
			})
			log.Printf("[Orchestrator] Skipping step %s of workflow %s: dependency %s did not succeed", name, wf.ID, blocker)
			continue
		}

		deps := o.dependencyOutcomes(wf, step)
		wg.Add(1)
		go func(step Step, outcome *StepOutcome) {
			defer wg.Done()
			if err := o.runStep(ctx, wf, step, outcome, bundle, deps); err != nil {
				mu.Lock()
				if storeErr == nil {
					storeErr = err
				}
				mu.Unlock()
			}
		}(step, outcome)
	}

	wg.Wait()
	return storeErr
}

// runStep executes a single step and records its outcome. The returned
// error is only non-nil for store faults; step failures end up inside the
// outcome.
func (o *Orchestrator) runStep(ctx context.Context, wf *Workflow, step Step, outcome *StepOutcome, bundle InputBundle, deps map[string]*StepOutcome) error {
	start := time.Now().UTC()
	outcome.State = StepRunning
	outcome.StartedAt = &start

	o.publish(ctx, StatusRecord{
		WorkflowID: wf.ID,
		StepName:   step.Name(),
		Status:     string(StepRunning),
		Timestamp:  start,
	})

	result, err := o.execute(ctx, step, bundle, deps)

	finish := time.Now().UTC()
	outcome.FinishedAt = &finish

	if err != nil {
		kind := KindOf(err)
		switch kind {
		case KindStepCrashed, KindStepTimeout:
		case "":
			kind = KindStepCrashed
		default:
			// Steps may surface any kind they classified themselves.
		}
		outcome.State = StepFailed
		outcome.Error = &StepError{Kind: kind, Message: err.Error()}
		log.Printf("[Orchestrator] Step %s of workflow %s failed (%s): %v", step.Name(), wf.ID, kind, err)
	} else {
		outcome.State = StepSucceeded
		outcome.Payload = result.Payload
		outcome.Confidence = result.Confidence
	}

	metrics.StepFinished(step.Name(), string(outcome.State), finish.Sub(start))

	if err := o.results.PutStepOutcome(ctx, wf.ID, outcome); err != nil {
		return WrapErr(KindOrchestratorFault, err, "failed to persist step outcome")
	}

	o.publish(ctx, StatusRecord{
		WorkflowID: wf.ID,
		StepName:   step.Name(),
		Status:     string(outcome.State),
		Timestamp:  finish,
	})
	return nil
}

// execute invokes the step behind a panic barrier. An escaped timeout is
// classified as KindStepTimeout, any other unclassified failure or panic
// as KindStepCrashed.
func (o *Orchestrator) execute(ctx context.Context, step Step, bundle InputBundle, deps map[string]*StepOutcome) (result *StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = Errorf(KindStepCrashed, "step %s panicked: %v", step.Name(), r)
		}
	}()

	result, err = step.Execute(ctx, bundle, deps)
	if err != nil {
		if KindOf(err) == "" && errors.Is(err, context.DeadlineExceeded) {
			err = WrapErr(KindStepTimeout, err, "step "+step.Name()+" timed out")
		}
		return nil, err
	}
	if result == nil {
		return nil, Errorf(KindStepCrashed, "step %s returned no result", step.Name())
	}
	return result, nil
}

// blockedBy reports whether a declared hard dependency of step failed or
// was skipped, which makes step ineligible to run.
func (o *Orchestrator) blockedBy(wf *Workflow, step Step) (string, bool) {
	for _, dep := range step.Dependencies() {
		outcome, ok := wf.StepOutcomes[dep]
		if !ok {
			// Dependency was not requested; ignored for this workflow.
			continue
		}
		if outcome.State == StepFailed || outcome.State == StepSkipped {
			return dep, true
		}
	}
	return "", false
}

// dependencyOutcomes collects the terminal outcomes this step declared a
// dependency on, to be handed into its input.
func (o *Orchestrator) dependencyOutcomes(wf *Workflow, step Step) map[string]*StepOutcome {
	deps := make(map[string]*StepOutcome)
	for _, dep := range step.Dependencies() {
		if outcome, ok := wf.StepOutcomes[dep]; ok && outcome.State.Terminal() {
			deps[dep] = outcome
		}
	}
	return deps
}

// buildReport condenses every successful outcome into the aggregated
// report. Confidence is the mean over steps that reported one; steps
// without a confidence are excluded from the average, not counted as
// zero.
func (o *Orchestrator) buildReport(wf *Workflow) *AggregatedReport {
	report := &AggregatedReport{
		WorkflowID:       wf.ID,
		SubjectID:        wf.SubjectID,
		GeneratedAt:      time.Now().UTC(),
		PerStepSummaries: make(map[string]Summary),
		FailedSteps:      []string{},
	}

	var confidences []float64
	for _, name := range wf.RequestedSteps {
		outcome, ok := wf.StepOutcomes[name]
		if !ok {
			continue
		}
		switch outcome.State {
		case StepSucceeded:
			if step, ok := o.registry.Resolve(name); ok {
				report.PerStepSummaries[name] = condense(step, outcome.Payload)
			}
			if outcome.Confidence != nil {
				confidences = append(confidences, *outcome.Confidence)
			}
		case StepFailed:
			report.FailedSteps = append(report.FailedSteps, name)
		}
	}
	sort.Strings(report.FailedSteps)

	if len(confidences) > 0 {
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		mean := sum / float64(len(confidences))
		report.OverallConfidence = &mean
	}
	return report
}

// condense guards the step's Condense at the orchestrator boundary the
// same way execute guards Execute.
func condense(step Step, payload map[string]interface{}) (summary Summary) {
	defer func() {
		if r := recover(); r != nil {
			summary = Summary{"type": step.Name()}
		}
	}()
	summary = step.Condense(payload)
	if summary == nil {
		summary = Summary{"type": step.Name()}
	}
	return summary
}

// transition moves the workflow to the next status and persists it,
// unless a concurrent cancellation already won. The store enforces the
// race window between the re-read and the save: a cancellation landing
// there makes SaveWorkflow return KindConflict.
func (o *Orchestrator) transition(ctx context.Context, wf *Workflow, next Status) error {
	cancelled, err := o.observeCancellation(ctx, wf.ID)
	if err != nil {
		return err
	}
	if cancelled {
		return errCancelled
	}
	wf.Status = next
	wf.UpdatedAt = time.Now().UTC()
	if err := o.results.SaveWorkflow(ctx, wf); err != nil {
		if IsKind(err, KindConflict) {
			return errCancelled
		}
		return WrapErr(KindOrchestratorFault, err, "failed to persist workflow transition")
	}
	return nil
}

// observeCancellation re-reads the durable record to honor cancellations
// requested while a group was running.
func (o *Orchestrator) observeCancellation(ctx context.Context, workflowID string) (bool, error) {
	current, err := o.results.GetWorkflow(ctx, workflowID)
	if err != nil {
		return false, WrapErr(KindOrchestratorFault, err, "failed to re-read workflow")
	}
	return current.Status == StatusCancelled, nil
}

// fail transitions the workflow to failed after an orchestrator-level
// fault. Completed work is not discarded: a best-effort partial report is
// assembled from whatever outcomes did finish.
func (o *Orchestrator) fail(ctx context.Context, wf *Workflow, cause error) error {
	log.Printf("[Orchestrator] Workflow %s failed: %v", wf.ID, cause)

	if wf.TerminalStepCount() > 0 {
		report := o.buildReport(wf)
		report.Partial = true
		if err := o.results.PutReport(ctx, report); err != nil && !IsKind(err, KindConflict) {
			log.Printf("[Orchestrator] Warning: failed to persist partial report for %s: %v", wf.ID, err)
		}
	}

	now := time.Now().UTC()
	wf.Status = StatusFailed
	wf.Error = cause.Error()
	wf.UpdatedAt = now
	if wf.CompletedAt == nil {
		wf.CompletedAt = &now
	}
	if err := o.results.SaveWorkflow(ctx, wf); err != nil {
		if IsKind(err, KindConflict) {
			// A cancellation won the race; the workflow stays cancelled
			// and the fault is moot.
			log.Printf("[Orchestrator] Workflow %s cancelled while failing: %v", wf.ID, cause)
			return nil
		}
		log.Printf("[Orchestrator] Warning: failed to persist failed workflow %s: %v", wf.ID, err)
	}

	o.publish(ctx, StatusRecord{
		WorkflowID: wf.ID,
		Status:     string(StatusFailed),
		Message:    cause.Error(),
		Timestamp:  now,
	})
	metrics.WorkflowCompleted(string(StatusFailed))

	if KindOf(cause) == "" {
		return WrapErr(KindOrchestratorFault, cause, "workflow "+wf.ID+" failed")
	}
	return cause
}

// publish writes a status record with TTL; progress signaling is
// best-effort and never fails a run.
func (o *Orchestrator) publish(ctx context.Context, rec StatusRecord) {
	if err := o.status.SetStepStatus(ctx, rec, o.statusTTL); err != nil {
		log.Printf("[Orchestrator] Warning: failed to publish status for %s: %v", rec.WorkflowID, err)
	}
}
