package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/signalnine/riskarena/internal/result"
	"github.com/signalnine/riskarena/internal/scoring"
	"github.com/signalnine/riskarena/internal/submission"
)

var (
	// ErrNoSubmission marks a stored evaluation that never got a valid
	// submission.
	ErrNoSubmission = errors.New("no stored submission")
	// ErrNotCompleted marks a stored evaluation that ended Rejected or
	// Failed. Those runs never carry scores.
	ErrNotCompleted = errors.New("evaluation did not complete")
)

// Rescore scores a stored evaluation again with the current catalog and
// weights. It never dispatches and never runs the sandbox; the stored
// sandbox result is reused. The new artifact replaces the stored one.
func (o *Orchestrator) Rescore(dir string) (*result.Artifact, error) {
	prev, err := result.ReadOutcome(filepath.Join(dir, result.OutcomeFile))
	if err != nil {
		return nil, err
	}
	if prev.State != Completed.String() {
		return nil, fmt.Errorf("%w: %s", ErrNotCompleted, prev.State)
	}
	data, err := os.ReadFile(filepath.Join(dir, result.SubmissionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSubmission
	}
	if err != nil {
		return nil, fmt.Errorf("reading submission: %w", err)
	}
	sub, err := submission.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("stored submission: %w", err)
	}
	simulated, err := result.ReadSandboxResult(dir)
	if err != nil {
		return nil, err
	}

	opts := o.Scoring
	if w, ok := storedWeights(dir); ok {
		opts.Weights = w
	}
	report, err := scoring.Compute(o.Catalog, sub, simulated, opts)
	if err != nil {
		return nil, err
	}

	meta := result.Metadata{
		AgentID:   sub.AgentID,
		RunID:     prev.RunID,
		Timestamp: o.clock(),
		Version:   Version,
	}
	artifact := &result.Artifact{
		Scores:           *report,
		Metadata:         meta,
		DetailedFeedback: scoring.BuildFeedback(o.Catalog, sub, report),
	}
	if old, err := result.ReadArtifact(filepath.Join(dir, result.ArtifactFile)); err == nil {
		artifact.Narrative = old.Narrative
	}
	if err := result.WriteArtifact(dir, artifact); err != nil {
		return nil, err
	}
	prev.Artifact = artifact
	prev.Message = fmt.Sprintf("rescored: overall score %.3f", report.Overall)
	if err := result.WriteOutcome(dir, prev); err != nil {
		return nil, err
	}
	return artifact, nil
}

// storedWeights returns the request's scoring weights when the stored
// request set any.
func storedWeights(dir string) (scoring.Weights, bool) {
	data, err := os.ReadFile(filepath.Join(dir, result.RequestFile))
	if err != nil {
		return scoring.Weights{}, false
	}
	var req struct {
		Config struct {
			Weights *scoring.Weights `json:"scoring_weights"`
		} `json:"config"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Config.Weights == nil || req.Config.Weights.IsZero() {
		return scoring.Weights{}, false
	}
	return *req.Config.Weights, true
}
