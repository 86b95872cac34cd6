package workflow

import (
	"context"
	"time"
)

// StatusStore holds short-lived per-step progress records and pushes
// status changes to subscribers. Records expire via TTL so a crashed
// worker cannot leave a step permanently "running". Delivery on the
// subscription stream is at-most-once and best-effort; Get remains the
// source of truth and subscribers should treat pushes as a hint to
// re-poll.
type StatusStore interface {
	SetStepStatus(ctx context.Context, rec StatusRecord, ttl time.Duration) error
	GetStepStatus(ctx context.Context, workflowID, stepName string) (*StatusRecord, error)

	// Subscribe streams status records for one workflow until ctx is
	// cancelled. The returned stop function releases the subscription.
	Subscribe(ctx context.Context, workflowID string) (<-chan StatusRecord, func(), error)
}

// ResultStore is the durable home of workflows, step outcomes and
// aggregated reports. All mutation is scoped to a single workflow key,
// so no cross-workflow coordination is required of implementations.
type ResultStore interface {
	// SaveWorkflow inserts or updates the workflow record. Cancellation
	// is sticky: saving a non-cancelled record over a stored cancelled
	// one fails with KindConflict and leaves the cancelled record in
	// place. Step outcomes recorded through PutStepOutcome survive a
	// concurrent save carrying stale copies of them.
	SaveWorkflow(ctx context.Context, wf *Workflow) error

	// GetWorkflow returns KindNotFound for unknown ids.
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)

	// PutStepOutcome writes one step's outcome without touching sibling
	// steps.
	PutStepOutcome(ctx context.Context, workflowID string, outcome *StepOutcome) error

	// PutReport is write-once: a second report for the same workflow
	// fails with KindConflict and leaves the first untouched.
	PutReport(ctx context.Context, report *AggregatedReport) error

	// GetReport returns KindNotFound when no report exists yet.
	GetReport(ctx context.Context, workflowID string) (*AggregatedReport, error)

	// ListWorkflows returns the workflows for one subject, newest first.
	ListWorkflows(ctx context.Context, subjectID string) ([]*Workflow, error)
}
