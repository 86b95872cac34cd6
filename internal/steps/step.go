// Package steps contains the concrete analysis steps executed by the
// workflow orchestrator: imaging, history, drug interaction, research
// and clinical decision. Each step owns its payload schema and its
// condensed report view; the orchestrator only sees the Step contract.
package steps

import (
	"fmt"
	"strings"
	"time"

	"github.com/agenticai/healthguard/internal/objectstore"
	"github.com/agenticai/healthguard/internal/patients"
	"github.com/agenticai/healthguard/internal/workflow"
)

// Step names; used as map keys everywhere.
const (
	StepImaging          = "imaging"
	StepHistory          = "history"
	StepDrugInteraction  = "drug_interaction"
	StepResearch         = "research"
	StepClinicalDecision = "clinical_decision"
)

// DefaultStepTimeout bounds a single step's own external I/O. The
// orchestrator imposes no deadline of its own; steps convert their
// timeouts into failed outcomes instead of hanging the group join.
const DefaultStepTimeout = 60 * time.Second

// Config wires the external collaborators the steps depend on
type Config struct {
	// Objects backs the imaging step; nil disables image fetching.
	Objects objectstore.Store

	// Patients backs the history step; nil limits it to request context.
	Patients patients.Repository

	// InteractionsFile optionally overrides the built-in drug
	// interaction table with a YAML file.
	InteractionsFile string

	// StepTimeout bounds each step's execution; zero means
	// DefaultStepTimeout.
	StepTimeout time.Duration
}

// NewRegistry builds the step registry with the five baseline steps
func NewRegistry(cfg Config) (*workflow.Registry, error) {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}

	interactions := DefaultInteractions()
	if cfg.InteractionsFile != "" {
		loaded, err := LoadInteractions(cfg.InteractionsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load interactions file: %w", err)
		}
		interactions = loaded
	}

	registry := workflow.NewRegistry()
	all := []workflow.Step{
		NewImagingStep(cfg.Objects, cfg.StepTimeout),
		NewHistoryStep(cfg.Patients, cfg.StepTimeout),
		NewDrugInteractionStep(interactions, cfg.StepTimeout),
		NewResearchStep(cfg.StepTimeout),
		NewClinicalDecisionStep(cfg.StepTimeout),
	}
	for _, step := range all {
		if err := registry.Register(step); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func confidence(v float64) *float64 {
	return &v
}

// contextStrings pulls a list of strings out of the request context,
// accepting both []string and the []interface{} that JSON decoding
// produces.
func contextStrings(ctx map[string]interface{}, key string) []string {
	if ctx == nil {
		return nil
	}
	switch v := ctx[key].(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func contextString(ctx map[string]interface{}, key string) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx[key].(string); ok {
		return s
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// payloadStrings reads a string list back out of a step payload, which
// may have been round-tripped through JSON.
func payloadStrings(payload map[string]interface{}, key string) []string {
	return contextStrings(payload, key)
}

func payloadString(payload map[string]interface{}, key string) string {
	return contextString(payload, key)
}
