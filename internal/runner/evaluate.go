// Package runner evaluates batches of request files.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalnine/riskarena/internal/evaluation"
	"github.com/signalnine/riskarena/internal/result"
)

// Evaluator runs one evaluation to a terminal state.
type Evaluator interface {
	Evaluate(ctx context.Context, req *evaluation.Request) *result.Outcome
}

// FileOutcome pairs a request file with how its run ended.
type FileOutcome struct {
	Path    string
	Outcome *result.Outcome
}

// LoadRequest reads and decodes one evaluation request file.
func LoadRequest(path string) (*evaluation.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	req, err := evaluation.ParseRequest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return req, nil
}

// EvaluateFiles runs every request file, up to parallel at a time, each with
// its own sandbox. Outcomes keep the order of paths; unreadable files leave a
// nil Outcome and are reported in the returned errors. progress, if set, is
// called as each run ends.
func EvaluateFiles(ctx context.Context, ev Evaluator, paths []string, parallel int, progress func(FileOutcome)) ([]FileOutcome, []error) {
	outcomes := make([]FileOutcome, len(paths))
	jobs := make([]Job, len(paths))
	for i, path := range paths {
		outcomes[i].Path = path
		jobs[i] = func(ctx context.Context) error {
			req, err := LoadRequest(path)
			if err != nil {
				return err
			}
			out := ev.Evaluate(ctx, req)
			outcomes[i].Outcome = out
			if progress != nil {
				progress(outcomes[i])
			}
			return nil
		}
	}
	errs := RunPool(ctx, parallel, jobs)
	return outcomes, errs
}
