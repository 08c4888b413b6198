package result

import (
	"time"

	"github.com/signalnine/riskarena/internal/scoring"
)

// Artifact is emitted for every Completed evaluation.
type Artifact struct {
	Scores           scoring.Report   `json:"scores"`
	Metadata         Metadata         `json:"metadata"`
	DetailedFeedback scoring.Feedback `json:"detailed_feedback"`
	Narrative        *Narrative       `json:"narrative,omitempty"`
}

type Metadata struct {
	AgentID   string    `json:"agent_id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Narrative is free-text analysis attached to an artifact. It never
// contributes to any score.
type Narrative struct {
	Model        string  `json:"model,omitempty"`
	Findings     string  `json:"findings,omitempty"`
	Fixes        string  `json:"fixes,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Outcome records how a run ended. It is written for every run, including
// Rejected and Failed ones, and never carries scores for those.
type Outcome struct {
	RunID      string    `json:"run_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	State      string    `json:"state"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Artifact   *Artifact `json:"artifact,omitempty"`
}
