package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticai/healthguard/internal/workflow"
)

func conf(v float64) *float64 { return &v }

func TestClinicalDecisionConsumesDependencyOutcomes(t *testing.T) {
	step := NewClinicalDecisionStep(time.Second)

	deps := map[string]*workflow.StepOutcome{
		StepImaging: {
			StepName:   StepImaging,
			State:      workflow.StepSucceeded,
			Confidence: conf(0.9),
			Payload:    map[string]interface{}{"impression": "No acute findings on chest radiograph."},
		},
		StepHistory: {
			StepName:   StepHistory,
			State:      workflow.StepSucceeded,
			Confidence: conf(0.7),
			Payload:    map[string]interface{}{"risk_factors": []interface{}{"diabetes: impaired glucose control complicates acute management"}},
		},
		StepDrugInteraction: {
			StepName:   StepDrugInteraction,
			State:      workflow.StepSucceeded,
			Confidence: conf(0.8),
			Payload:    map[string]interface{}{"highest_severity": "major"},
		},
	}

	result, err := step.Execute(context.Background(), workflow.InputBundle{
		SubjectID: "p1",
		Context:   map[string]interface{}{"symptoms": []interface{}{"chest pain"}},
	}, deps)
	require.NoError(t, err)

	differentials := result.Payload["differentials"].([]string)
	assert.Contains(t, differentials, "acute coronary syndrome")

	recommendations := result.Payload["recommendations"].([]string)
	assert.Contains(t, recommendations, "resolve major drug interactions before new prescriptions")

	considered := result.Payload["inputs_considered"].([]string)
	assert.Equal(t, []string{StepDrugInteraction, StepHistory, StepImaging}, considered)

	guideline := result.Payload["guideline_text"].(string)
	assert.Contains(t, guideline, "chest radiograph")
	assert.Contains(t, guideline, "major severity")

	// Confidence is the mean of the dependency confidences
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.8, *result.Confidence, 1e-9)
}

func TestClinicalDecisionIgnoresFailedDependencies(t *testing.T) {
	step := NewClinicalDecisionStep(time.Second)

	deps := map[string]*workflow.StepOutcome{
		StepImaging: {
			StepName: StepImaging,
			State:    workflow.StepFailed,
			Payload:  map[string]interface{}{"impression": "must not appear"},
		},
		StepHistory: {
			StepName:   StepHistory,
			State:      workflow.StepSucceeded,
			Confidence: conf(0.6),
			Payload:    map[string]interface{}{"risk_factors": []interface{}{}},
		},
	}

	result, err := step.Execute(context.Background(), workflow.InputBundle{SubjectID: "p1"}, deps)
	require.NoError(t, err)

	considered := result.Payload["inputs_considered"].([]string)
	assert.Equal(t, []string{StepHistory}, considered)
	assert.NotContains(t, result.Payload["guideline_text"].(string), "must not appear")

	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.6, *result.Confidence, 1e-9)
}

func TestClinicalDecisionWithNoInputs(t *testing.T) {
	step := NewClinicalDecisionStep(time.Second)

	result, err := step.Execute(context.Background(), workflow.InputBundle{SubjectID: "p1"}, nil)
	require.NoError(t, err)

	recommendations := result.Payload["recommendations"].([]string)
	require.Len(t, recommendations, 1)
	assert.Contains(t, recommendations[0], "standard evaluation")

	// Baseline confidence when no dependency reported one
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.4, *result.Confidence, 1e-9)
}

func TestClinicalDecisionDeclaresDependencies(t *testing.T) {
	step := NewClinicalDecisionStep(time.Second)
	assert.ElementsMatch(t, []string{StepImaging, StepHistory, StepDrugInteraction}, step.Dependencies())
}

func TestNewRegistryBuildsBaselineSteps(t *testing.T) {
	registry, err := NewRegistry(Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		StepClinicalDecision,
		StepDrugInteraction,
		StepHistory,
		StepImaging,
		StepResearch,
	}, registry.Names())
}
