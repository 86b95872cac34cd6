package steps

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agenticai/healthguard/internal/workflow"
)

// Interaction is one known drug-drug interaction
type Interaction struct {
	DrugA          string `yaml:"drug_a" json:"drug_a"`
	DrugB          string `yaml:"drug_b" json:"drug_b"`
	Severity       string `yaml:"severity" json:"severity"` // minor, moderate, major
	Effect         string `yaml:"effect" json:"effect"`
	Recommendation string `yaml:"recommendation" json:"recommendation"`
}

var severityRank = map[string]int{"minor": 1, "moderate": 2, "major": 3}

// InteractionTable indexes interactions by normalized drug pair
type InteractionTable struct {
	byPair map[string]Interaction
}

func pairKey(a, b string) string {
	a, b = normalize(a), normalize(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// NewInteractionTable builds a lookup table from a list of interactions
func NewInteractionTable(interactions []Interaction) *InteractionTable {
	table := &InteractionTable{byPair: make(map[string]Interaction, len(interactions))}
	for _, in := range interactions {
		table.byPair[pairKey(in.DrugA, in.DrugB)] = in
	}
	return table
}

// Lookup returns the interaction for a drug pair, if known
func (t *InteractionTable) Lookup(a, b string) (Interaction, bool) {
	in, ok := t.byPair[pairKey(a, b)]
	return in, ok
}

// DefaultInteractions is the built-in lab dictionary. Deployments load a
// fuller table from YAML via the steps.interactions_file setting.
func DefaultInteractions() *InteractionTable {
	return NewInteractionTable([]Interaction{
		{DrugA: "warfarin", DrugB: "aspirin", Severity: "major",
			Effect:         "additive anticoagulation raises bleeding risk",
			Recommendation: "avoid combination; monitor INR closely if unavoidable"},
		{DrugA: "warfarin", DrugB: "amiodarone", Severity: "major",
			Effect:         "amiodarone inhibits warfarin metabolism",
			Recommendation: "reduce warfarin dose and monitor INR"},
		{DrugA: "lisinopril", DrugB: "spironolactone", Severity: "moderate",
			Effect:         "combined potassium retention can cause hyperkalemia",
			Recommendation: "monitor serum potassium"},
		{DrugA: "simvastatin", DrugB: "clarithromycin", Severity: "major",
			Effect:         "CYP3A4 inhibition raises statin levels, rhabdomyolysis risk",
			Recommendation: "suspend statin during the antibiotic course"},
		{DrugA: "metformin", DrugB: "contrast media", Severity: "moderate",
			Effect:         "lactic acidosis risk with renal impairment",
			Recommendation: "hold metformin around contrast administration"},
		{DrugA: "sertraline", DrugB: "tramadol", Severity: "moderate",
			Effect:         "additive serotonergic activity",
			Recommendation: "watch for serotonin syndrome symptoms"},
		{DrugA: "digoxin", DrugB: "furosemide", Severity: "moderate",
			Effect:         "diuretic-induced hypokalemia potentiates digoxin toxicity",
			Recommendation: "monitor potassium and digoxin levels"},
	})
}

// LoadInteractions reads an interaction table from a YAML file
func LoadInteractions(path string) (*InteractionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read interactions file: %w", err)
	}
	var doc struct {
		Interactions []Interaction `yaml:"interactions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse interactions file: %w", err)
	}
	if len(doc.Interactions) == 0 {
		return nil, fmt.Errorf("interactions file %s contains no entries", path)
	}
	return NewInteractionTable(doc.Interactions), nil
}

// DrugInteractionStep checks the medication list pairwise against the
// interaction table
type DrugInteractionStep struct {
	table   *InteractionTable
	timeout time.Duration
}

// NewDrugInteractionStep creates the drug interaction analysis step
func NewDrugInteractionStep(table *InteractionTable, timeout time.Duration) *DrugInteractionStep {
	return &DrugInteractionStep{table: table, timeout: timeout}
}

func (s *DrugInteractionStep) Name() string { return StepDrugInteraction }

func (s *DrugInteractionStep) Dependencies() []string { return nil }

func (s *DrugInteractionStep) Execute(ctx context.Context, bundle workflow.InputBundle, deps map[string]*workflow.StepOutcome) (*workflow.StepResult, error) {
	medications := contextStrings(bundle.Context, "medications")

	var found []Interaction
	for i := 0; i < len(medications); i++ {
		for j := i + 1; j < len(medications); j++ {
			if interaction, ok := s.table.Lookup(medications[i], medications[j]); ok {
				found = append(found, interaction)
			}
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return severityRank[found[i].Severity] > severityRank[found[j].Severity]
	})

	highest := "none"
	if len(found) > 0 {
		highest = found[0].Severity
	}

	interactionDocs := make([]map[string]interface{}, 0, len(found))
	for _, in := range found {
		interactionDocs = append(interactionDocs, map[string]interface{}{
			"drug_a":         in.DrugA,
			"drug_b":         in.DrugB,
			"severity":       in.Severity,
			"effect":         in.Effect,
			"recommendation": in.Recommendation,
		})
	}

	return &workflow.StepResult{
		Payload: map[string]interface{}{
			"medications":       medications,
			"interactions":      interactionDocs,
			"interaction_count": len(found),
			"highest_severity":  highest,
		},
		Confidence: confidence(0.85),
	}, nil
}

func (s *DrugInteractionStep) Condense(payload map[string]interface{}) workflow.Summary {
	summary := workflow.Summary{"type": StepDrugInteraction}
	if payload == nil {
		return summary
	}
	if severity := payloadString(payload, "highest_severity"); severity != "" {
		summary["highest_severity"] = severity
	}
	switch count := payload["interaction_count"].(type) {
	case int:
		summary["interaction_count"] = count
	case float64:
		summary["interaction_count"] = int(count)
	}
	return summary
}
