package submission

import "github.com/signalnine/riskarena/internal/catalog"

// Finding is one vulnerability reported by the purple agent.
type Finding struct {
	Contract          string  `json:"contract"`
	VulnerabilityType string  `json:"vulnerability_type"`
	Severity          float64 `json:"severity"`
	LineNumber        int     `json:"line_number"`
	Description       string  `json:"description"`
	ExploitCondition  string  `json:"exploit_condition,omitempty"`
	ProofOfConcept    string  `json:"proof_of_concept,omitempty"`
}

// Key returns the catalog pair this finding claims.
func (f Finding) Key() catalog.Key {
	return catalog.Key{Contract: f.Contract, Type: catalog.VulnerabilityType(f.VulnerabilityType)}
}

// FixProposal is treated as opaque text; the code is never compiled.
type FixProposal struct {
	LineNumber   int    `json:"line_number"`
	OriginalCode string `json:"original_code"`
	FixedCode    string `json:"fixed_code"`
	Explanation  string `json:"explanation"`
}

type Submission struct {
	AgentID           string         `json:"agent_id"`
	Findings          []Finding      `json:"findings"`
	Fixes             []FixProposal  `json:"fixes"`
	ExploitSimulation map[string]any `json:"exploit_simulation,omitempty"`
	Metadata          map[string]any `json:"metadata"`
}

func (s *Submission) HasExploit() bool {
	return s != nil && len(s.ExploitSimulation) > 0
}

// wire types mirror the JSON schema with pointer fields so that a missing
// field can be told apart from a zero value.
type wireSubmission struct {
	AgentID           *string        `json:"agent_id" validate:"required"`
	Findings          []wireFinding  `json:"findings" validate:"dive"`
	Fixes             []wireFix      `json:"fixes" validate:"dive"`
	ExploitSimulation map[string]any `json:"exploit_simulation"`
	Metadata          map[string]any `json:"metadata"`
}

type wireFinding struct {
	Contract          *string  `json:"contract" validate:"required"`
	VulnerabilityType *string  `json:"vulnerability_type" validate:"required"`
	Severity          *float64 `json:"severity" validate:"required,gte=0,lte=1"`
	LineNumber        *int     `json:"line_number" validate:"required"`
	Description       *string  `json:"description" validate:"required"`
	ExploitCondition  *string  `json:"exploit_condition"`
	ProofOfConcept    *string  `json:"proof_of_concept"`
}

type wireFix struct {
	LineNumber   *int    `json:"line_number" validate:"required"`
	OriginalCode *string `json:"original_code" validate:"required"`
	FixedCode    *string `json:"fixed_code" validate:"required"`
	Explanation  *string `json:"explanation" validate:"required"`
}

func (w *wireSubmission) toSubmission() *Submission {
	s := &Submission{
		AgentID:           *w.AgentID,
		Findings:          make([]Finding, 0, len(w.Findings)),
		Fixes:             make([]FixProposal, 0, len(w.Fixes)),
		ExploitSimulation: w.ExploitSimulation,
		Metadata:          w.Metadata,
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	for _, f := range w.Findings {
		s.Findings = append(s.Findings, Finding{
			Contract:          *f.Contract,
			VulnerabilityType: *f.VulnerabilityType,
			Severity:          *f.Severity,
			LineNumber:        *f.LineNumber,
			Description:       *f.Description,
			ExploitCondition:  deref(f.ExploitCondition),
			ProofOfConcept:    deref(f.ProofOfConcept),
		})
	}
	for _, f := range w.Fixes {
		s.Fixes = append(s.Fixes, FixProposal{
			LineNumber:   *f.LineNumber,
			OriginalCode: *f.OriginalCode,
			FixedCode:    *f.FixedCode,
			Explanation:  *f.Explanation,
		})
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
