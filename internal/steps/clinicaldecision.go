package steps

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/agenticai/healthguard/internal/workflow"
)

// Differential candidates keyed by presenting symptom
var differentialIndex = map[string][]string{
	"chest pain":          {"acute coronary syndrome", "pulmonary embolism", "aortic dissection", "musculoskeletal pain"},
	"shortness of breath": {"heart failure", "pneumonia", "pulmonary embolism", "COPD exacerbation"},
	"headache":            {"tension headache", "migraine", "subarachnoid hemorrhage"},
	"fever":               {"viral syndrome", "bacterial infection", "drug reaction"},
	"abdominal pain":      {"appendicitis", "cholecystitis", "gastroenteritis", "bowel obstruction"},
	"fatigue":             {"anemia", "hypothyroidism", "depression", "sleep disorder"},
}

var guidelineTemplate = template.Must(template.New("guideline").Parse(
	`Clinical assessment for subject {{.SubjectID}}.
{{- if .Impression}}
Imaging impression: {{.Impression}}
{{- end}}
{{- if .RiskFactors}}
History flags {{len .RiskFactors}} risk factor(s): {{range $i, $f := .RiskFactors}}{{if $i}}; {{end}}{{$f}}{{end}}.
{{- end}}
{{- if ne .InteractionSeverity "none"}}
Medication review found interactions up to {{.InteractionSeverity}} severity; reconcile before prescribing.
{{- end}}
{{- if .Differentials}}
Leading differentials: {{range $i, $d := .Differentials}}{{if $i}}, {{end}}{{$d}}{{end}}.
{{- end}}
Correlate with clinical examination; this summary does not replace physician judgment.`))

type guidelineInput struct {
	SubjectID           string
	Impression          string
	RiskFactors         []string
	InteractionSeverity string
	Differentials       []string
}

// ClinicalDecisionStep consumes the imaging, history and drug
// interaction outcomes and produces the combined recommendation. It is
// the one baseline step with declared hard dependencies.
type ClinicalDecisionStep struct {
	timeout time.Duration
}

// NewClinicalDecisionStep creates the clinical decision step
func NewClinicalDecisionStep(timeout time.Duration) *ClinicalDecisionStep {
	return &ClinicalDecisionStep{timeout: timeout}
}

func (s *ClinicalDecisionStep) Name() string { return StepClinicalDecision }

func (s *ClinicalDecisionStep) Dependencies() []string {
	return []string{StepImaging, StepHistory, StepDrugInteraction}
}

func (s *ClinicalDecisionStep) Execute(ctx context.Context, bundle workflow.InputBundle, deps map[string]*workflow.StepOutcome) (*workflow.StepResult, error) {
	symptoms := contextStrings(bundle.Context, "symptoms")
	if chief := contextString(bundle.Context, "chief_complaint"); chief != "" {
		symptoms = append(symptoms, chief)
	}

	seen := make(map[string]bool)
	var differentials []string
	for _, symptom := range symptoms {
		for _, candidate := range differentialIndex[normalize(symptom)] {
			if !seen[candidate] {
				seen[candidate] = true
				differentials = append(differentials, candidate)
			}
		}
	}

	input := guidelineInput{
		SubjectID:           bundle.SubjectID,
		InteractionSeverity: "none",
		Differentials:       differentials,
	}

	var confidences []float64
	inputsConsidered := make([]string, 0, len(deps))
	for name, outcome := range deps {
		if outcome.State != workflow.StepSucceeded {
			continue
		}
		inputsConsidered = append(inputsConsidered, name)
		if outcome.Confidence != nil {
			confidences = append(confidences, *outcome.Confidence)
		}
		switch name {
		case StepImaging:
			input.Impression = payloadString(outcome.Payload, "impression")
		case StepHistory:
			input.RiskFactors = payloadStrings(outcome.Payload, "risk_factors")
		case StepDrugInteraction:
			if severity := payloadString(outcome.Payload, "highest_severity"); severity != "" {
				input.InteractionSeverity = severity
			}
		}
	}
	sort.Strings(inputsConsidered)

	var buf bytes.Buffer
	if err := guidelineTemplate.Execute(&buf, input); err != nil {
		return nil, fmt.Errorf("failed to render guideline text: %w", err)
	}

	var recommendations []string
	if input.InteractionSeverity == "major" {
		recommendations = append(recommendations, "resolve major drug interactions before new prescriptions")
	}
	if len(input.RiskFactors) > 0 {
		recommendations = append(recommendations, "factor chronic disease burden into disposition planning")
	}
	if len(differentials) > 0 {
		recommendations = append(recommendations, "work up leading differentials in listed order")
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "no specific flags raised; proceed with standard evaluation")
	}

	// Confidence mirrors the inputs: the mean of what the dependency
	// steps reported, absent values excluded.
	conf := 0.4
	if len(confidences) > 0 {
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		conf = sum / float64(len(confidences))
	}

	return &workflow.StepResult{
		Payload: map[string]interface{}{
			"differentials":     differentials,
			"recommendations":   recommendations,
			"guideline_text":    buf.String(),
			"inputs_considered": inputsConsidered,
		},
		Confidence: confidence(conf),
	}, nil
}

func (s *ClinicalDecisionStep) Condense(payload map[string]interface{}) workflow.Summary {
	summary := workflow.Summary{"type": StepClinicalDecision}
	if payload == nil {
		return summary
	}
	summary["differentials"] = payloadStrings(payload, "differentials")
	summary["recommendations"] = payloadStrings(payload, "recommendations")
	return summary
}
