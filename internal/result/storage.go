package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/signalnine/riskarena/internal/sandbox"
)

const (
	ArtifactFile   = "artifact.json"
	OutcomeFile    = "outcome.json"
	SubmissionFile = "submission.json"
	SandboxFile    = "sandbox.json"
	RequestFile    = "request.json"
)

// ErrNotFound is returned when no stored evaluation matches a run ID.
var ErrNotFound = errors.New("evaluation not found")

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func EvaluationDir(runDir, runID string) string {
	return filepath.Join(runDir, "evaluations", runID)
}

func writeJSON(dir, name string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating evaluation dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func WriteArtifact(dir string, a *Artifact) error {
	return writeJSON(dir, ArtifactFile, a)
}

func ReadArtifact(path string) (*Artifact, error) {
	var a Artifact
	if err := readJSON(path, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func WriteOutcome(dir string, o *Outcome) error {
	return writeJSON(dir, OutcomeFile, o)
}

func ReadOutcome(path string) (*Outcome, error) {
	var o Outcome
	if err := readJSON(path, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// WriteSubmission stores the validated submission for later rescoring.
func WriteSubmission(dir string, sub any) error {
	return writeJSON(dir, SubmissionFile, sub)
}

// WriteRequest stores the inbound evaluation request.
func WriteRequest(dir string, req any) error {
	return writeJSON(dir, RequestFile, req)
}

func WriteSandboxResult(dir string, r *sandbox.Result) error {
	return writeJSON(dir, SandboxFile, r)
}

// ReadSandboxResult returns nil without error when the run had no
// simulation.
func ReadSandboxResult(dir string) (*sandbox.Result, error) {
	path := filepath.Join(dir, SandboxFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var r sandbox.Result
	if err := readJSON(path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// EvaluationDirs lists every evaluation directory under root, which may be a
// single run dir or a results base dir.
func EvaluationDirs(root string) ([]string, error) {
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && filepath.Base(filepath.Dir(path)) == "evaluations" {
			if _, statErr := os.Stat(filepath.Join(path, OutcomeFile)); statErr == nil {
				dirs = append(dirs, path)
			}
			return filepath.SkipDir
		}
		return nil
	})
	return dirs, err
}

// FindEvaluation locates the stored outcome of runID under baseDir.
func FindEvaluation(baseDir, runID string) (string, *Outcome, error) {
	matches, err := filepath.Glob(filepath.Join(baseDir, "runs", "*", "evaluations", runID, OutcomeFile))
	if err != nil {
		return "", nil, err
	}
	if len(matches) == 0 {
		return "", nil, ErrNotFound
	}
	o, err := ReadOutcome(matches[0])
	if err != nil {
		return "", nil, err
	}
	return filepath.Dir(matches[0]), o, nil
}
