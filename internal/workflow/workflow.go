package workflow

import (
	"time"
)

// Status represents the current state of a workflow
type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusAggregating  Status = "aggregating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority selects the scheduling queue a workflow is placed on.
type Priority string

const (
	PriorityRoutine  Priority = "routine"
	PriorityUrgent   Priority = "urgent"
	PriorityEmergent Priority = "emergent"
	PriorityCritical Priority = "critical"
)

// Priorities lists all priorities from most to least urgent. Queue
// consumers drain them in this order.
var Priorities = []Priority{PriorityCritical, PriorityEmergent, PriorityUrgent, PriorityRoutine}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// StepState represents the current state of one analysis step within a workflow
type StepState string

const (
	StepNotStarted StepState = "not_started"
	StepRunning    StepState = "running"
	StepSucceeded  StepState = "succeeded"
	StepFailed     StepState = "failed"
	StepSkipped    StepState = "skipped"
)

// Terminal reports whether the step has finished (successfully or not).
func (s StepState) Terminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// Workflow represents one end-to-end diagnosis orchestration run
type Workflow struct {
	ID             string                  `json:"id" bson:"_id"`
	SubjectID      string                  `json:"subject_id" bson:"subject_id"`
	RequestedSteps []string                `json:"requested_steps" bson:"requested_steps"`
	Priority       Priority                `json:"priority" bson:"priority"`
	Status         Status                  `json:"status" bson:"status"`
	Context        map[string]interface{}  `json:"context,omitempty" bson:"context,omitempty"`
	StepOutcomes   map[string]*StepOutcome `json:"step_outcomes" bson:"step_outcomes"`
	Error          string                  `json:"error,omitempty" bson:"error,omitempty"`
	CancelledBy    string                  `json:"cancelled_by,omitempty" bson:"cancelled_by,omitempty"`
	CreatedAt      time.Time               `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at" bson:"updated_at"`
	StartedAt      *time.Time              `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// TerminalStepCount returns how many requested steps have reached a
// terminal state.
func (w *Workflow) TerminalStepCount() int {
	n := 0
	for _, name := range w.RequestedSteps {
		if outcome, ok := w.StepOutcomes[name]; ok && outcome.State.Terminal() {
			n++
		}
	}
	return n
}

// PendingSteps returns the names of requested steps that are still
// running or not started.
func (w *Workflow) PendingSteps() []string {
	var pending []string
	for _, name := range w.RequestedSteps {
		outcome, ok := w.StepOutcomes[name]
		if !ok || !outcome.State.Terminal() {
			pending = append(pending, name)
		}
	}
	return pending
}

// StepError describes why a step failed
type StepError struct {
	Kind    Kind   `json:"kind" bson:"kind"`
	Message string `json:"message" bson:"message"`
}

// StepOutcome is the result record for one step within one workflow
type StepOutcome struct {
	WorkflowID string                 `json:"workflow_id" bson:"workflow_id"`
	StepName   string                 `json:"step_name" bson:"step_name"`
	State      StepState              `json:"state" bson:"state"`
	Payload    map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	Confidence *float64               `json:"confidence,omitempty" bson:"confidence,omitempty"`
	Error      *StepError             `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt  *time.Time             `json:"started_at,omitempty" bson:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}

// Summary is the condensed, report-ready view of a step's payload.
// Its shape is owned by the step that produced it.
type Summary map[string]interface{}

// AggregatedReport is the composite view over all step outcomes of a
// completed workflow. It is written once and never mutated.
type AggregatedReport struct {
	WorkflowID        string             `json:"workflow_id" bson:"_id"`
	SubjectID         string             `json:"subject_id" bson:"subject_id"`
	GeneratedAt       time.Time          `json:"generated_at" bson:"generated_at"`
	PerStepSummaries  map[string]Summary `json:"per_step_summaries" bson:"per_step_summaries"`
	OverallConfidence *float64           `json:"overall_confidence,omitempty" bson:"overall_confidence,omitempty"`
	FailedSteps       []string           `json:"failed_steps" bson:"failed_steps"`
	Partial           bool               `json:"partial,omitempty" bson:"partial,omitempty"`
}

// StatusView is the caller-facing progress snapshot of a workflow
type StatusView struct {
	WorkflowID   string     `json:"workflow_id"`
	Status       Status     `json:"status"`
	Progress     float64    `json:"progress"`
	PendingSteps []string   `json:"pending_steps,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CreateRequest is the input to Manager.Create
type CreateRequest struct {
	SubjectID      string                 `json:"subject_id"`
	RequestedSteps []string               `json:"requested_steps"`
	Priority       Priority               `json:"priority,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

// InputBundle is the normalized input handed to every step of a workflow
type InputBundle struct {
	WorkflowID string
	SubjectID  string
	Context    map[string]interface{}
}

// StepResult is what a successful step execution returns
type StepResult struct {
	Payload    map[string]interface{}
	Confidence *float64
}

// StatusRecord is a single progress signal written to the status store
// and pushed to subscribers
type StatusRecord struct {
	WorkflowID string    `json:"workflow_id"`
	StepName   string    `json:"step_name,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
