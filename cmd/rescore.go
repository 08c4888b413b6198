package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/evaluation"
	"github.com/signalnine/riskarena/internal/result"
)

func newRescoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescore [run-dir]",
		Short: "Re-score stored submissions with the current catalog and weights",
		Long:  "Walk a run directory and score each completed evaluation's stored submission and sandbox result again. The auditor is not contacted and no exploit is re-run.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			root := filepath.Join(cfg.Results.Dir, "latest")
			if len(args) > 0 {
				root = args[0]
			}
			dirs, err := result.EvaluationDirs(root)
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no evaluations found in %s", root)
			}

			cat, err := cfg.BuildCatalog()
			if err != nil {
				return err
			}
			o := &evaluation.Orchestrator{Catalog: cat, Logger: log}
			o.Scoring.Weights = cfg.Scoring.Weights
			o.Scoring.LineTolerance = cfg.Scoring.LineTolerance

			for _, dir := range dirs {
				var before float64
				if a, err := result.ReadArtifact(filepath.Join(dir, result.ArtifactFile)); err == nil {
					before = a.Scores.Overall
				}
				a, err := o.Rescore(dir)
				if errors.Is(err, evaluation.ErrNotCompleted) || errors.Is(err, evaluation.ErrNoSubmission) {
					log.Debug("skipping", "dir", dir, "reason", err)
					continue
				}
				if err != nil {
					log.Warn("rescore failed", "dir", dir, "error", err)
					continue
				}
				fmt.Printf("%s (%s): overall %.3f → %.3f\n", a.Metadata.AgentID, a.Metadata.RunID, before, a.Scores.Overall)
			}
			return nil
		},
	}
}
