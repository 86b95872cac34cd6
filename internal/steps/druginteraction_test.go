package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticai/healthguard/internal/workflow"
)

func TestInteractionTableLookupIsOrderInsensitive(t *testing.T) {
	table := DefaultInteractions()

	in, ok := table.Lookup("Warfarin", "ASPIRIN")
	require.True(t, ok)
	assert.Equal(t, "major", in.Severity)

	in, ok = table.Lookup("aspirin", "warfarin")
	require.True(t, ok)
	assert.Equal(t, "major", in.Severity)

	_, ok = table.Lookup("aspirin", "vitamin c")
	assert.False(t, ok)
}

func TestDrugInteractionStepFindsPairs(t *testing.T) {
	step := NewDrugInteractionStep(DefaultInteractions(), time.Second)

	result, err := step.Execute(context.Background(), workflow.InputBundle{
		SubjectID: "p1",
		Context: map[string]interface{}{
			"medications": []interface{}{"warfarin", "aspirin", "lisinopril", "spironolactone"},
		},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.Payload["interaction_count"])
	// Sorted by severity, major first
	assert.Equal(t, "major", result.Payload["highest_severity"])
	interactions := result.Payload["interactions"].([]map[string]interface{})
	require.Len(t, interactions, 2)
	assert.Equal(t, "major", interactions[0]["severity"])
	assert.Equal(t, "moderate", interactions[1]["severity"])
}

func TestDrugInteractionStepNoMedications(t *testing.T) {
	step := NewDrugInteractionStep(DefaultInteractions(), time.Second)

	result, err := step.Execute(context.Background(), workflow.InputBundle{SubjectID: "p1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Payload["interaction_count"])
	assert.Equal(t, "none", result.Payload["highest_severity"])
	require.NotNil(t, result.Confidence)
}

func TestDrugInteractionCondenseHandlesJSONNumbers(t *testing.T) {
	step := NewDrugInteractionStep(DefaultInteractions(), time.Second)

	// After a JSON round trip counts arrive as float64
	summary := step.Condense(map[string]interface{}{
		"highest_severity":  "major",
		"interaction_count": float64(2),
	})
	assert.Equal(t, StepDrugInteraction, summary["type"])
	assert.Equal(t, "major", summary["highest_severity"])
	assert.Equal(t, 2, summary["interaction_count"])

	// Condense must be total on malformed payloads
	summary = step.Condense(nil)
	assert.Equal(t, StepDrugInteraction, summary["type"])
}

func TestLoadInteractionsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.yaml")
	doc := `interactions:
  - drug_a: ibuprofen
    drug_b: lithium
    severity: moderate
    effect: NSAIDs reduce lithium clearance
    recommendation: monitor lithium levels
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	table, err := LoadInteractions(path)
	require.NoError(t, err)

	in, ok := table.Lookup("lithium", "ibuprofen")
	require.True(t, ok)
	assert.Equal(t, "moderate", in.Severity)
}

func TestLoadInteractionsRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interactions: []\n"), 0644))

	_, err := LoadInteractions(path)
	assert.Error(t, err)
}
