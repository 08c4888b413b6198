package scoring_test

import (
	"math"
	"testing"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/sandbox"
	"github.com/signalnine/riskarena/internal/scoring"
	"github.com/signalnine/riskarena/internal/submission"
)

func absf(f float64) float64 {
	return math.Abs(f)
}

func boolPtr(b bool) *bool { return &b }

func finding(contract, typ string, severity float64) submission.Finding {
	return submission.Finding{Contract: contract, VulnerabilityType: typ, Severity: severity, LineNumber: 1, Description: "d"}
}

func fullCoverage() []submission.Finding {
	return []submission.Finding{
		finding("ReentrancyVault", "reentrancy", 0.9),
		finding("FlashLoanPool", "flash_loan", 0.8),
		finding("OracleManipulation", "oracle_manipulation", 0.7),
	}
}

func TestEmptyFindings(t *testing.T) {
	cat := catalog.Default()
	if got := scoring.DetectionScore(cat, nil); got != 0 {
		t.Errorf("detection = %f, want 0", got)
	}
	if got := scoring.FalsePositives(cat, nil); got != 0 {
		t.Errorf("false positives = %d, want 0", got)
	}
	if got := scoring.SeverityScore(cat, nil); got != 0 {
		t.Errorf("severity = %f, want 0", got)
	}
}

func TestFullCoverage(t *testing.T) {
	cat := catalog.Default()
	findings := fullCoverage()
	if got := scoring.DetectionScore(cat, findings); got != 1.0 {
		t.Errorf("detection = %f, want 1.0", got)
	}
	if got := scoring.SeverityScore(cat, findings); absf(got-1.0) > 1e-9 {
		t.Errorf("severity = %f, want 1.0", got)
	}
	if got := scoring.FalsePositives(cat, findings); got != 0 {
		t.Errorf("false positives = %d, want 0", got)
	}
}

func TestDetectionIdempotentUnderDuplicates(t *testing.T) {
	cat := catalog.Default()
	once := []submission.Finding{finding("ReentrancyVault", "reentrancy", 0.9)}
	dup := append(append([]submission.Finding{}, once...), once[0], once[0])
	a := scoring.DetectionScore(cat, once)
	b := scoring.DetectionScore(cat, dup)
	if a != b {
		t.Errorf("duplicates changed detection: %f vs %f", a, b)
	}
	if absf(a-1.0/3.0) > 1e-9 {
		t.Errorf("detection = %f, want 1/3", a)
	}
}

func TestDetectionRequiresMatchingType(t *testing.T) {
	cat := catalog.Default()
	wrongType := []submission.Finding{finding("ReentrancyVault", "flash_loan", 0.9)}
	if got := scoring.DetectionScore(cat, wrongType); got != 0 {
		t.Errorf("detection = %f, want 0", got)
	}
	if got := scoring.FalsePositives(cat, wrongType); got != 1 {
		t.Errorf("false positives = %d, want 1", got)
	}
}

func TestEmptyCatalog(t *testing.T) {
	cat, err := catalog.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	findings := fullCoverage()
	if got := scoring.DetectionScore(cat, findings); got != 0 {
		t.Errorf("detection = %f, want 0", got)
	}
	if got := scoring.SeverityScore(cat, findings); got != 0 {
		t.Errorf("severity = %f, want 0", got)
	}
	if got := scoring.FalsePositives(cat, findings); got != 3 {
		t.Errorf("false positives = %d, want 3", got)
	}
}

func TestSeverityUsesFirstMatch(t *testing.T) {
	cat, err := catalog.New([]catalog.ExpectedVulnerability{
		{Contract: "ReentrancyVault", Type: catalog.Reentrancy, Severity: 0.9, Line: 15},
	})
	if err != nil {
		t.Fatal(err)
	}
	findings := []submission.Finding{
		finding("ReentrancyVault", "reentrancy", 0.5),
		finding("ReentrancyVault", "reentrancy", 0.9),
	}
	if got := scoring.SeverityScore(cat, findings); absf(got-0.6) > 1e-9 {
		t.Errorf("severity = %f, want 0.6", got)
	}
}

func TestSeverityUnmatchedContributesZero(t *testing.T) {
	cat := catalog.Default()
	findings := []submission.Finding{finding("ReentrancyVault", "reentrancy", 0.9)}
	if got := scoring.SeverityScore(cat, findings); absf(got-1.0/3.0) > 1e-9 {
		t.Errorf("severity = %f, want 1/3", got)
	}
}

func TestFixQuality(t *testing.T) {
	cat := catalog.Default()
	tests := []struct {
		name  string
		fixes []submission.FixProposal
		want  float64
	}{
		{"no fixes", nil, 0},
		{"complete fix on vulnerable line", []submission.FixProposal{
			{LineNumber: 15, OriginalCode: "a", FixedCode: "b", Explanation: "e"},
		}, 1.0},
		{"within tolerance", []submission.FixProposal{
			{LineNumber: 12, OriginalCode: "a", FixedCode: "b", Explanation: "e"},
		}, 1.0},
		{"outside every range", []submission.FixProposal{
			{LineNumber: 100, OriginalCode: "a", FixedCode: "b", Explanation: "e"},
		}, 0.5},
		{"line only", []submission.FixProposal{
			{LineNumber: 20},
		}, 0.5},
		{"missing fixed code", []submission.FixProposal{
			{LineNumber: 20, OriginalCode: "a", Explanation: "e"},
		}, 0.7},
		{"averaged", []submission.FixProposal{
			{LineNumber: 18, OriginalCode: "a", FixedCode: "b", Explanation: "e"},
			{LineNumber: 100},
		}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoring.FixQualityScore(cat, tt.fixes, catalog.DefaultLineTolerance)
			if absf(got-tt.want) > 1e-9 {
				t.Errorf("fix quality = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestReproducibility(t *testing.T) {
	tests := []struct {
		name   string
		result *sandbox.Result
		want   float64
	}{
		{"absent", nil, 0},
		{"failed", &sandbox.Result{Success: false, Steps: []string{"deploy"}}, 0},
		{"success without steps", &sandbox.Result{Success: true}, 0},
		{"success", &sandbox.Result{Success: true, Steps: []string{"deploy", "exploit"}}, 0.8},
		{"verified", &sandbox.Result{Success: true, Steps: []string{"exploit"}, Verified: boolPtr(true)}, 1.0},
		{"explicitly unverified", &sandbox.Result{Success: true, Steps: []string{"exploit"}, Verified: boolPtr(false)}, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoring.ReproducibilityScore(tt.result)
			if absf(got-tt.want) > 1e-9 {
				t.Errorf("reproducibility = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestComputeOverallIsWeightedSum(t *testing.T) {
	cat := catalog.Default()
	sub := &submission.Submission{
		AgentID:  "a",
		Findings: fullCoverage()[:2],
		Fixes:    []submission.FixProposal{{LineNumber: 15, OriginalCode: "a", FixedCode: "b"}},
	}
	res := &sandbox.Result{Success: true, Steps: []string{"exploit"}}
	r, err := scoring.Compute(cat, sub, res, scoring.Options{})
	if err != nil {
		t.Fatal(err)
	}
	w := scoring.DefaultWeights
	want := r.Detection*w.Detection + r.SeverityAccuracy*w.Severity + r.FixQuality*w.Fixes + r.Reproducibility*w.Reproducibility
	if absf(r.Overall-want) > 1e-9 {
		t.Errorf("overall = %f, want %f", r.Overall, want)
	}
	if r.FindingsCount != 2 {
		t.Errorf("findings count = %d, want 2", r.FindingsCount)
	}
	if absf(r.Reproducibility-0.8) > 1e-9 {
		t.Errorf("reproducibility = %f, want 0.8", r.Reproducibility)
	}
}

func TestOverallMonotonicInWeight(t *testing.T) {
	r := &scoring.Report{Detection: 1.0, SeverityAccuracy: 0.5, FixQuality: 0.2, Reproducibility: 0}
	low := scoring.Weights{Detection: 0.1, Severity: 0.3, Fixes: 0.3, Reproducibility: 0.3}
	high := low
	high.Detection = 0.4

	lo := scoring.Overall(r, low)
	hi := scoring.Overall(r, high)
	if hi <= lo {
		t.Errorf("raising detection weight did not raise overall: %f -> %f", lo, hi)
	}

	lower := low
	lower.Fixes = 0.1
	if scoring.Overall(r, lower) >= lo {
		t.Errorf("lowering fixes weight did not lower overall")
	}
}

func TestScenarioFalsePositive(t *testing.T) {
	cat, err := catalog.New([]catalog.ExpectedVulnerability{
		{Contract: "ReentrancyVault", Type: catalog.Reentrancy, Severity: 0.9, Line: 15},
	})
	if err != nil {
		t.Fatal(err)
	}
	sub := &submission.Submission{
		AgentID: "a",
		Findings: []submission.Finding{
			finding("ReentrancyVault", "reentrancy", 0.9),
			finding("FakeContract", "oracle_manipulation", 0.5),
		},
	}
	r, err := scoring.Compute(cat, sub, nil, scoring.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Detection != 1.0 {
		t.Errorf("detection = %f, want 1.0", r.Detection)
	}
	if r.FalsePositives != 1 {
		t.Errorf("false positives = %d, want 1", r.FalsePositives)
	}
	if r.Reproducibility != 0 {
		t.Errorf("reproducibility = %f, want 0", r.Reproducibility)
	}
}

func TestComputeRejectsNegativeWeights(t *testing.T) {
	_, err := scoring.Compute(catalog.Default(), &submission.Submission{}, nil,
		scoring.Options{Weights: scoring.Weights{Detection: -1, Severity: 1}})
	if err == nil {
		t.Fatal("expected error for negative weight")
	}
}
