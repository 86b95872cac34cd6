package steps

import (
	"context"
	"sort"
	"time"

	"github.com/agenticai/healthguard/internal/workflow"
)

// Reference is one canned literature entry
type Reference struct {
	Title   string `json:"title"`
	Journal string `json:"journal"`
	Year    int    `json:"year"`
	Finding string `json:"finding"`
}

// Canned literature index keyed by topic keyword. Stand-in for a real
// retrieval backend.
var literatureIndex = map[string][]Reference{
	"chest pain": {
		{Title: "High-sensitivity troponin pathways in acute chest pain", Journal: "Circulation", Year: 2021,
			Finding: "0/1h hs-cTn protocols safely rule out myocardial infarction"},
		{Title: "HEART score validation in emergency departments", Journal: "Ann Emerg Med", Year: 2019,
			Finding: "low HEART scores identify patients safe for early discharge"},
	},
	"shortness of breath": {
		{Title: "Point-of-care ultrasound for acute dyspnea", Journal: "Chest", Year: 2020,
			Finding: "lung ultrasound outperforms radiography for pulmonary edema"},
	},
	"headache": {
		{Title: "Ottawa SAH rule prospective validation", Journal: "BMJ", Year: 2019,
			Finding: "clinical decision rule achieves 100% sensitivity for subarachnoid hemorrhage"},
	},
	"fever": {
		{Title: "Procalcitonin-guided antibiotic stewardship", Journal: "Lancet Infect Dis", Year: 2018,
			Finding: "procalcitonin guidance reduces antibiotic exposure without worse outcomes"},
	},
	"abdominal pain": {
		{Title: "CT utilization in acute abdominal pain", Journal: "Radiology", Year: 2020,
			Finding: "early CT reduces time to surgical decision in the acute abdomen"},
	},
	"diabetes": {
		{Title: "SGLT2 inhibitors and cardiovascular outcomes", Journal: "NEJM", Year: 2019,
			Finding: "SGLT2 inhibition reduces heart-failure hospitalization in type 2 diabetes"},
	},
	"hypertension": {
		{Title: "Intensive blood-pressure control (SPRINT)", Journal: "NEJM", Year: 2015,
			Finding: "targeting systolic <120 mmHg reduces cardiovascular events"},
	},
}

// ResearchStep matches the presenting problem against the canned
// literature index
type ResearchStep struct {
	timeout time.Duration
}

// NewResearchStep creates the research analysis step
func NewResearchStep(timeout time.Duration) *ResearchStep {
	return &ResearchStep{timeout: timeout}
}

func (s *ResearchStep) Name() string { return StepResearch }

func (s *ResearchStep) Dependencies() []string { return nil }

func (s *ResearchStep) Execute(ctx context.Context, bundle workflow.InputBundle, deps map[string]*workflow.StepOutcome) (*workflow.StepResult, error) {
	var terms []string
	terms = append(terms, contextStrings(bundle.Context, "symptoms")...)
	terms = append(terms, contextStrings(bundle.Context, "conditions")...)
	if chief := contextString(bundle.Context, "chief_complaint"); chief != "" {
		terms = append(terms, chief)
	}

	matched := make(map[string]bool)
	var references []Reference
	for _, term := range terms {
		key := normalize(term)
		if refs, ok := literatureIndex[key]; ok && !matched[key] {
			matched[key] = true
			references = append(references, refs...)
		}
	}

	topics := make([]string, 0, len(matched))
	for topic := range matched {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	refDocs := make([]map[string]interface{}, 0, len(references))
	for _, ref := range references {
		refDocs = append(refDocs, map[string]interface{}{
			"title":   ref.Title,
			"journal": ref.Journal,
			"year":    ref.Year,
			"finding": ref.Finding,
		})
	}

	conf := 0.6
	if len(references) == 0 {
		conf = 0.3
	}

	return &workflow.StepResult{
		Payload: map[string]interface{}{
			"matched_topics":  topics,
			"references":      refDocs,
			"reference_count": len(refDocs),
		},
		Confidence: confidence(conf),
	}, nil
}

func (s *ResearchStep) Condense(payload map[string]interface{}) workflow.Summary {
	summary := workflow.Summary{"type": StepResearch}
	if payload == nil {
		return summary
	}
	summary["matched_topics"] = payloadStrings(payload, "matched_topics")
	switch count := payload["reference_count"].(type) {
	case int:
		summary["reference_count"] = count
	case float64:
		summary["reference_count"] = int(count)
	}
	return summary
}
