package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agenticai/healthguard/internal/objectstore"
	"github.com/agenticai/healthguard/internal/workflow"
)

// Canned findings per modality. Stand-in for a real inference backend;
// the payload schema is what downstream consumers depend on.
var modalityFindings = map[string]struct {
	findings   []string
	impression string
	confidence float64
}{
	"xray": {
		findings:   []string{"no acute cardiopulmonary process", "normal cardiac silhouette"},
		impression: "No acute findings on chest radiograph.",
		confidence: 0.82,
	},
	"ct": {
		findings:   []string{"no acute intracranial hemorrhage", "no mass effect or midline shift"},
		impression: "Unremarkable non-contrast CT.",
		confidence: 0.88,
	},
	"mri": {
		findings:   []string{"no restricted diffusion", "age-appropriate parenchymal volume"},
		impression: "No acute abnormality on MRI.",
		confidence: 0.9,
	},
	"ultrasound": {
		findings:   []string{"normal echotexture", "no free fluid"},
		impression: "Unremarkable ultrasound examination.",
		confidence: 0.75,
	},
}

// ImagingStep fetches the referenced study from the object store and
// produces structured findings
type ImagingStep struct {
	objects objectstore.Store
	timeout time.Duration
}

// NewImagingStep creates the imaging analysis step
func NewImagingStep(objects objectstore.Store, timeout time.Duration) *ImagingStep {
	return &ImagingStep{objects: objects, timeout: timeout}
}

func (s *ImagingStep) Name() string { return StepImaging }

func (s *ImagingStep) Dependencies() []string { return nil }

func (s *ImagingStep) Execute(ctx context.Context, bundle workflow.InputBundle, deps map[string]*workflow.StepOutcome) (*workflow.StepResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	modality := normalize(contextString(bundle.Context, "modality"))
	if modality == "" {
		modality = "xray"
	}
	entry, ok := modalityFindings[modality]
	if !ok {
		return nil, workflow.Errorf(workflow.KindStepCrashed, "unsupported imaging modality %q", modality)
	}

	payload := map[string]interface{}{
		"modality":   modality,
		"findings":   entry.findings,
		"impression": entry.impression,
	}

	if handle := contextString(bundle.Context, "image_handle"); handle != "" {
		if s.objects == nil {
			return nil, workflow.Errorf(workflow.KindStepCrashed, "image %s referenced but no object store configured", handle)
		}
		data, err := s.objects.Get(cctx, handle)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, workflow.WrapErr(workflow.KindStepTimeout, err, "image fetch timed out")
			}
			return nil, fmt.Errorf("failed to fetch image %s: %w", handle, err)
		}
		payload["image_handle"] = handle
		payload["image_size_bytes"] = len(data)
	}

	return &workflow.StepResult{
		Payload:    payload,
		Confidence: confidence(entry.confidence),
	}, nil
}

func (s *ImagingStep) Condense(payload map[string]interface{}) workflow.Summary {
	summary := workflow.Summary{"type": StepImaging}
	if payload == nil {
		return summary
	}
	if impression := payloadString(payload, "impression"); impression != "" {
		summary["impression"] = impression
	}
	if modality := payloadString(payload, "modality"); modality != "" {
		summary["modality"] = modality
	}
	summary["finding_count"] = len(payloadStrings(payload, "findings"))
	return summary
}
