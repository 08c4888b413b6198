// Package scoring computes a ScoreReport from a validated submission, the
// vulnerability catalog and an optional sandbox result. Everything here is
// pure and deterministic.
package scoring

import (
	"math"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/sandbox"
	"github.com/signalnine/riskarena/internal/submission"
)

const (
	fixLineCredit        = 0.5
	fixCodeCredit        = 0.3
	fixExplanationCredit = 0.2

	reproducedCredit = 0.8
	verifiedBonus    = 0.2
)

type Report struct {
	Overall          float64 `json:"overall"`
	Detection        float64 `json:"detection"`
	SeverityAccuracy float64 `json:"severity_accuracy"`
	FixQuality       float64 `json:"fix_quality"`
	Reproducibility  float64 `json:"reproducibility"`
	FindingsCount    int     `json:"findings_count"`
	FalsePositives   int     `json:"false_positives"`
}

type Options struct {
	Weights Weights
	// LineTolerance widens single-line catalog entries when judging fixes.
	// Zero means catalog.DefaultLineTolerance.
	LineTolerance int
}

// Compute scores sub against cat. Weights are resolved with Weights.Resolve;
// invalid weights are the only error.
func Compute(cat *catalog.Catalog, sub *submission.Submission, simulated *sandbox.Result, opts Options) (*Report, error) {
	weights, err := opts.Weights.Resolve()
	if err != nil {
		return nil, err
	}
	var findings []submission.Finding
	var fixes []submission.FixProposal
	if sub != nil {
		findings = sub.Findings
		fixes = sub.Fixes
	}

	tolerance := opts.LineTolerance
	if tolerance <= 0 {
		tolerance = catalog.DefaultLineTolerance
	}

	r := &Report{
		Detection:        DetectionScore(cat, findings),
		SeverityAccuracy: SeverityScore(cat, findings),
		FixQuality:       FixQualityScore(cat, fixes, tolerance),
		Reproducibility:  ReproducibilityScore(simulated),
		FindingsCount:    len(findings),
		FalsePositives:   FalsePositives(cat, findings),
	}
	r.Overall = Overall(r, weights)
	return r, nil
}

// Overall is the weighted sum of the four sub-scores.
func Overall(r *Report, w Weights) float64 {
	return clamp01(r.Detection*w.Detection +
		r.SeverityAccuracy*w.Severity +
		r.FixQuality*w.Fixes +
		r.Reproducibility*w.Reproducibility)
}

// DetectionScore is the fraction of catalog pairs reported at least once.
func DetectionScore(cat *catalog.Catalog, findings []submission.Finding) float64 {
	if cat.Len() == 0 {
		return 0
	}
	found := make(map[catalog.Key]struct{})
	for _, f := range findings {
		if cat.Has(f.Key()) {
			found[f.Key()] = struct{}{}
		}
	}
	return float64(len(found)) / float64(cat.Len())
}

// SeverityScore averages 1-|reported-expected| over catalog entries, using
// the first finding for each pair. Unmatched entries contribute zero.
func SeverityScore(cat *catalog.Catalog, findings []submission.Finding) float64 {
	if cat.Len() == 0 {
		return 0
	}
	first := make(map[catalog.Key]float64)
	for _, f := range findings {
		if _, seen := first[f.Key()]; !seen {
			first[f.Key()] = f.Severity
		}
	}
	var total float64
	for _, e := range cat.Entries() {
		reported, ok := first[catalog.Key{Contract: e.Contract, Type: e.Type}]
		if !ok {
			continue
		}
		total += clamp01(1 - math.Abs(reported-e.Severity))
	}
	return clamp01(total / float64(cat.Len()))
}

// FixQualityScore averages the per-fix credit. A fix earns credit for
// pointing into a vulnerable range, for carrying both the original and the
// fixed code, and for explaining itself.
func FixQualityScore(cat *catalog.Catalog, fixes []submission.FixProposal, tolerance int) float64 {
	if len(fixes) == 0 {
		return 0
	}
	var total float64
	for _, fx := range fixes {
		total += fixCredit(cat, fx, tolerance)
	}
	return clamp01(total / float64(len(fixes)))
}

func fixCredit(cat *catalog.Catalog, fx submission.FixProposal, tolerance int) float64 {
	var credit float64
	if cat.InVulnerableRange(fx.LineNumber, tolerance) {
		credit += fixLineCredit
	}
	if fx.OriginalCode != "" && fx.FixedCode != "" {
		credit += fixCodeCredit
	}
	if fx.Explanation != "" {
		credit += fixExplanationCredit
	}
	return credit
}

// ReproducibilityScore depends only on the sandbox result.
func ReproducibilityScore(r *sandbox.Result) float64 {
	if r == nil || !r.Success || len(r.Steps) == 0 {
		return 0
	}
	score := reproducedCredit
	if r.IsVerified() {
		score += verifiedBonus
	}
	return math.Min(score, 1)
}

// FalsePositives counts findings whose pair is not in the catalog.
func FalsePositives(cat *catalog.Catalog, findings []submission.Finding) int {
	n := 0
	for _, f := range findings {
		if !cat.Has(f.Key()) {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
