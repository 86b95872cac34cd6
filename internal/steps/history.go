package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/agenticai/healthguard/internal/patients"
	"github.com/agenticai/healthguard/internal/workflow"
)

// Conditions that raise a risk flag when present in the record
var riskConditions = map[string]string{
	"diabetes":            "impaired glucose control complicates acute management",
	"hypertension":        "elevated cardiovascular risk",
	"atrial fibrillation": "anticoagulation status must be verified",
	"copd":                "reduced respiratory reserve",
	"asthma":              "bronchospasm risk with beta-blockade",
	"chronic kidney disease": "renal dosing adjustments required",
	"coronary artery disease": "elevated perioperative cardiac risk",
}

// HistoryStep summarizes the patient's record into risk factors for the
// downstream clinical decision step
type HistoryStep struct {
	patients patients.Repository
	timeout  time.Duration
}

// NewHistoryStep creates the history analysis step
func NewHistoryStep(repo patients.Repository, timeout time.Duration) *HistoryStep {
	return &HistoryStep{patients: repo, timeout: timeout}
}

func (s *HistoryStep) Name() string { return StepHistory }

func (s *HistoryStep) Dependencies() []string { return nil }

func (s *HistoryStep) Execute(ctx context.Context, bundle workflow.InputBundle, deps map[string]*workflow.StepOutcome) (*workflow.StepResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conditions := contextStrings(bundle.Context, "conditions")
	medications := contextStrings(bundle.Context, "medications")
	allergies := contextStrings(bundle.Context, "allergies")
	fromRecord := false

	if s.patients != nil {
		patient, err := s.patients.Get(cctx, bundle.SubjectID)
		switch {
		case err == nil:
			conditions = merge(conditions, patient.Conditions)
			medications = merge(medications, patient.Medications)
			allergies = merge(allergies, patient.Allergies)
			fromRecord = true
		case workflow.IsKind(err, workflow.KindNotFound):
			// Fall back to whatever the request carried.
		default:
			return nil, fmt.Errorf("failed to load patient record: %w", err)
		}
	}

	var riskFactors []string
	for _, condition := range conditions {
		if reason, ok := riskConditions[normalize(condition)]; ok {
			riskFactors = append(riskFactors, fmt.Sprintf("%s: %s", normalize(condition), reason))
		}
	}

	summaryText := fmt.Sprintf("%d known conditions, %d active medications, %d allergies, %d risk factors identified",
		len(conditions), len(medications), len(allergies), len(riskFactors))

	conf := 0.5
	if fromRecord {
		conf = 0.8
	}

	return &workflow.StepResult{
		Payload: map[string]interface{}{
			"conditions":   conditions,
			"medications":  medications,
			"allergies":    allergies,
			"risk_factors": riskFactors,
			"from_record":  fromRecord,
			"summary":      summaryText,
		},
		Confidence: confidence(conf),
	}, nil
}

func (s *HistoryStep) Condense(payload map[string]interface{}) workflow.Summary {
	summary := workflow.Summary{"type": StepHistory}
	if payload == nil {
		return summary
	}
	if text := payloadString(payload, "summary"); text != "" {
		summary["summary"] = text
	}
	summary["risk_factor_count"] = len(payloadStrings(payload, "risk_factors"))
	return summary
}

func merge(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range base {
		key := normalize(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	for _, s := range extra {
		key := normalize(s)
		if !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}
