package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/signalnine/riskarena/internal/result"
)

type AgentSummary struct {
	Agent               string  `json:"agent"`
	Runs                int     `json:"runs"`
	Completed           int     `json:"completed"`
	Rejected            int     `json:"rejected"`
	Failed              int     `json:"failed"`
	CompletionRate      float64 `json:"completion_rate"`
	MeanOverall         float64 `json:"mean_overall"`
	MeanDetection       float64 `json:"mean_detection"`
	MeanSeverity        float64 `json:"mean_severity_accuracy"`
	MeanFixQuality      float64 `json:"mean_fix_quality"`
	MeanReproducibility float64 `json:"mean_reproducibility"`
	FalsePositives      int     `json:"false_positives"`
	NarrativeCostUSD    float64 `json:"narrative_cost_usd"`
}

const unknownAgent = "(unknown)"

// Generate reads stored outcomes under root and writes a per-agent summary.
// Score means cover Completed runs only.
func Generate(root, format string, w io.Writer) error {
	outcomes, err := collectOutcomes(root)
	if err != nil {
		return err
	}
	summaries := aggregate(outcomes)

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

func collectOutcomes(root string) ([]*result.Outcome, error) {
	dirs, err := result.EvaluationDirs(root)
	if err != nil {
		return nil, err
	}
	var outcomes []*result.Outcome
	for _, dir := range dirs {
		o, err := result.ReadOutcome(filepath.Join(dir, result.OutcomeFile))
		if err != nil {
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func aggregate(outcomes []*result.Outcome) []AgentSummary {
	byAgent := map[string]*AgentSummary{}

	for _, o := range outcomes {
		name := o.AgentID
		if name == "" {
			name = unknownAgent
		}
		s, ok := byAgent[name]
		if !ok {
			s = &AgentSummary{Agent: name}
			byAgent[name] = s
		}
		s.Runs++
		switch o.State {
		case "Completed":
			s.Completed++
		case "Rejected":
			s.Rejected++
		default:
			s.Failed++
		}
		if a := o.Artifact; a != nil {
			s.MeanOverall += a.Scores.Overall
			s.MeanDetection += a.Scores.Detection
			s.MeanSeverity += a.Scores.SeverityAccuracy
			s.MeanFixQuality += a.Scores.FixQuality
			s.MeanReproducibility += a.Scores.Reproducibility
			s.FalsePositives += a.Scores.FalsePositives
			if a.Narrative != nil {
				s.NarrativeCostUSD += a.Narrative.CostUSD
			}
		}
	}

	var summaries []AgentSummary
	for _, s := range byAgent {
		s.CompletionRate = float64(s.Completed) / float64(s.Runs)
		if s.Completed > 0 {
			n := float64(s.Completed)
			s.MeanOverall /= n
			s.MeanDetection /= n
			s.MeanSeverity /= n
			s.MeanFixQuality /= n
			s.MeanReproducibility /= n
		}
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].MeanOverall != summaries[j].MeanOverall {
			return summaries[i].MeanOverall > summaries[j].MeanOverall
		}
		return summaries[i].Agent < summaries[j].Agent
	})
	return summaries
}

func writeTable(summaries []AgentSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tRUNS\tCOMPLETED\tOVERALL\tDETECTION\tSEVERITY\tFIXES\tREPRO\tFALSE POS\tLLM COST")
	fmt.Fprintln(tw, strings.Repeat("-", 100))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%d\t$%.4f\n",
			s.Agent, s.Runs, s.CompletionRate*100, s.MeanOverall, s.MeanDetection,
			s.MeanSeverity, s.MeanFixQuality, s.MeanReproducibility, s.FalsePositives, s.NarrativeCostUSD)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(summaries) == 0 {
		color.New(color.FgYellow).Fprintln(w, "No evaluations found.")
		return nil
	}
	best := summaries[0]
	if best.Completed > 0 {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "Top agent: %s (%.3f)\n", best.Agent, best.MeanOverall)
	}
	for _, s := range summaries {
		if s.Failed > 0 {
			color.New(color.FgRed).Fprintf(w, "%s: %d failed run(s)\n", s.Agent, s.Failed)
		}
	}
	return nil
}

func writeMarkdown(summaries []AgentSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Agent | Runs | Completed | Overall | Detection | Severity | Fixes | Repro | False Pos | LLM Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %d | %.0f%% | %.3f | %.3f | %.3f | %.3f | %.3f | %d | $%.4f |\n",
			s.Agent, s.Runs, s.CompletionRate*100, s.MeanOverall, s.MeanDetection,
			s.MeanSeverity, s.MeanFixQuality, s.MeanReproducibility, s.FalsePositives, s.NarrativeCostUSD)
	}
	return nil
}

func writeJSON(summaries []AgentSummary, w io.Writer) error {
	if summaries == nil {
		summaries = []AgentSummary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
