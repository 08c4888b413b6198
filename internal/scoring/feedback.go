package scoring

import (
	"fmt"

	"github.com/signalnine/riskarena/internal/catalog"
	"github.com/signalnine/riskarena/internal/submission"
)

// Feedback is the qualitative part of an evaluation artifact.
type Feedback struct {
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

const (
	strongThreshold = 0.8
	weakThreshold   = 0.5
)

// BuildFeedback derives feedback from a report. Missed catalog entries are
// named explicitly, in catalog order.
func BuildFeedback(cat *catalog.Catalog, sub *submission.Submission, r *Report) Feedback {
	fb := Feedback{Strengths: []string{}, Weaknesses: []string{}, Recommendations: []string{}}
	if r == nil {
		return fb
	}

	switch {
	case r.Detection >= 1 && cat.Len() > 0:
		fb.Strengths = append(fb.Strengths, "Detected every known vulnerability")
	case r.Detection >= strongThreshold:
		fb.Strengths = append(fb.Strengths, fmt.Sprintf("High detection rate (%.0f%%)", r.Detection*100))
	case r.Detection < weakThreshold:
		fb.Weaknesses = append(fb.Weaknesses, fmt.Sprintf("Low detection rate (%.0f%%)", r.Detection*100))
	}

	for _, key := range missed(cat, sub) {
		fb.Recommendations = append(fb.Recommendations,
			fmt.Sprintf("Review %s for %s vulnerabilities", key.Contract, key.Type))
	}

	if r.SeverityAccuracy >= strongThreshold {
		fb.Strengths = append(fb.Strengths, "Severity assessments close to expected values")
	} else if r.Detection > 0 && r.SeverityAccuracy < weakThreshold {
		fb.Weaknesses = append(fb.Weaknesses, "Severity assessments diverge from expected values")
		fb.Recommendations = append(fb.Recommendations, "Calibrate severity against exploit impact")
	}

	switch {
	case r.FixQuality >= strongThreshold:
		fb.Strengths = append(fb.Strengths, "Fix proposals target vulnerable code with clear explanations")
	case sub == nil || len(sub.Fixes) == 0:
		fb.Weaknesses = append(fb.Weaknesses, "No fix proposals submitted")
		fb.Recommendations = append(fb.Recommendations, "Propose a fix for each reported vulnerability")
	case r.FixQuality < weakThreshold:
		fb.Weaknesses = append(fb.Weaknesses, "Fix proposals miss vulnerable lines or lack detail")
		fb.Recommendations = append(fb.Recommendations, "Include original code, fixed code and the line being changed")
	}

	switch {
	case r.Reproducibility >= 1:
		fb.Strengths = append(fb.Strengths, "Exploit reproduced and verified on chain")
	case r.Reproducibility > 0:
		fb.Strengths = append(fb.Strengths, "Exploit reproduced in the sandbox")
		fb.Recommendations = append(fb.Recommendations, "Make the exploit drain the target so the balance change can be verified")
	case sub.HasExploit():
		fb.Weaknesses = append(fb.Weaknesses, "Exploit simulation did not succeed")
	default:
		fb.Recommendations = append(fb.Recommendations, "Provide an exploit simulation to demonstrate reproducibility")
	}

	if r.FalsePositives > 0 {
		fb.Weaknesses = append(fb.Weaknesses, fmt.Sprintf("%d finding(s) do not match any known vulnerability", r.FalsePositives))
		fb.Recommendations = append(fb.Recommendations, "Reduce false positives by confirming exploitability before reporting")
	}
	return fb
}

func missed(cat *catalog.Catalog, sub *submission.Submission) []catalog.Key {
	reported := make(map[catalog.Key]bool)
	if sub != nil {
		for _, f := range sub.Findings {
			reported[f.Key()] = true
		}
	}
	var out []catalog.Key
	for _, e := range cat.Entries() {
		k := catalog.Key{Contract: e.Contract, Type: e.Type}
		if !reported[k] {
			out = append(out, k)
		}
	}
	return out
}
