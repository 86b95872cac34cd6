package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticai/healthguard/internal/objectstore"
	"github.com/agenticai/healthguard/internal/workflow"
)

func TestImagingStepDefaultsToXray(t *testing.T) {
	step := NewImagingStep(nil, time.Second)

	result, err := step.Execute(context.Background(), workflow.InputBundle{SubjectID: "p1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "xray", result.Payload["modality"])
	assert.NotEmpty(t, result.Payload["impression"])
	require.NotNil(t, result.Confidence)
}

func TestImagingStepRejectsUnknownModality(t *testing.T) {
	step := NewImagingStep(nil, time.Second)

	_, err := step.Execute(context.Background(), workflow.InputBundle{
		SubjectID: "p1",
		Context:   map[string]interface{}{"modality": "pet-scan"},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, workflow.KindStepCrashed, workflow.KindOf(err))
}

func TestImagingStepFetchesReferencedImage(t *testing.T) {
	ctx := context.Background()
	objects := objectstore.NewMemoryStore()
	handle, err := objects.Put(ctx, []byte("fake-dicom-bytes"))
	require.NoError(t, err)

	step := NewImagingStep(objects, time.Second)
	result, err := step.Execute(ctx, workflow.InputBundle{
		SubjectID: "p1",
		Context: map[string]interface{}{
			"modality":     "ct",
			"image_handle": handle,
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, handle, result.Payload["image_handle"])
	assert.Equal(t, len("fake-dicom-bytes"), result.Payload["image_size_bytes"])
}

func TestImagingStepHandleWithoutStore(t *testing.T) {
	step := NewImagingStep(nil, time.Second)

	_, err := step.Execute(context.Background(), workflow.InputBundle{
		SubjectID: "p1",
		Context:   map[string]interface{}{"image_handle": "img-1"},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, workflow.KindStepCrashed, workflow.KindOf(err))
}

func TestImagingCondense(t *testing.T) {
	step := NewImagingStep(nil, time.Second)

	summary := step.Condense(map[string]interface{}{
		"modality":   "ct",
		"impression": "Unremarkable non-contrast CT.",
		"findings":   []interface{}{"a", "b"},
	})
	assert.Equal(t, StepImaging, summary["type"])
	assert.Equal(t, "ct", summary["modality"])
	assert.Equal(t, 2, summary["finding_count"])

	assert.Equal(t, StepImaging, step.Condense(nil)["type"])
}
