package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/signalnine/riskarena/internal/report"
	"github.com/signalnine/riskarena/internal/result"
	"github.com/signalnine/riskarena/internal/scoring"
)

func writeRuns(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	runDir, err := result.CreateRunDir(base)
	if err != nil {
		t.Fatal(err)
	}
	outcomes := []*result.Outcome{
		{RunID: "r1", AgentID: "agent-a", State: "Completed", Artifact: &result.Artifact{
			Scores:    scoring.Report{Overall: 0.9, Detection: 1, FalsePositives: 1},
			Narrative: &result.Narrative{CostUSD: 0.01},
		}},
		{RunID: "r2", AgentID: "agent-a", State: "Completed", Artifact: &result.Artifact{
			Scores: scoring.Report{Overall: 0.7, Detection: 2.0 / 3},
		}},
		{RunID: "r3", AgentID: "agent-b", State: "Completed", Artifact: &result.Artifact{
			Scores: scoring.Report{Overall: 0.4},
		}},
		{RunID: "r4", AgentID: "agent-b", State: "Failed", Message: "sandbox infrastructure failure"},
		{RunID: "r5", State: "Rejected", Message: "missing roles: auditor"},
	}
	for _, o := range outcomes {
		if err := result.WriteOutcome(result.EvaluationDir(runDir, o.RunID), o); err != nil {
			t.Fatal(err)
		}
	}
	return base
}

func TestGenerateTable(t *testing.T) {
	base := writeRuns(t)

	var buf bytes.Buffer
	if err := report.Generate(base, "table", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"agent-a", "agent-b", "(unknown)", "Top agent: agent-a"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestGenerateJSON(t *testing.T) {
	base := writeRuns(t)

	var buf bytes.Buffer
	if err := report.Generate(base, "json", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var summaries []report.AgentSummary
	if err := json.Unmarshal(buf.Bytes(), &summaries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(summaries))
	}
	a := summaries[0]
	if a.Agent != "agent-a" || a.Runs != 2 || a.Completed != 2 {
		t.Errorf("agent-a summary = %+v", a)
	}
	if diff := a.MeanOverall - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("agent-a mean overall = %v, want 0.8", a.MeanOverall)
	}
	if a.FalsePositives != 1 || a.NarrativeCostUSD != 0.01 {
		t.Errorf("agent-a totals = %+v", a)
	}
	b := summaries[1]
	if b.Agent != "agent-b" || b.Failed != 1 || b.CompletionRate != 0.5 {
		t.Errorf("agent-b summary = %+v", b)
	}
	if b.MeanOverall != 0.4 {
		t.Errorf("failed runs should not dilute the mean, got %v", b.MeanOverall)
	}
	if summaries[2].Rejected != 1 {
		t.Errorf("unknown agent summary = %+v", summaries[2])
	}
}

func TestGenerateMarkdownEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := report.Generate(t.TempDir(), "markdown", &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "| Agent |") {
		t.Errorf("unexpected markdown:\n%s", buf.String())
	}
}
