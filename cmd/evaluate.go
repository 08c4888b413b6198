package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/report"
	"github.com/signalnine/riskarena/internal/result"
	"github.com/signalnine/riskarena/internal/runner"
)

var flagParallel int

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <request.json>...",
		Short: "Run evaluation requests from files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runEvaluate,
	}
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max concurrent evaluations, each with its own sandbox")
	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	h, err := buildHarness(cfg, log, runDir)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Printf("Evaluating %d request(s) with parallelism %d...\n", len(args), flagParallel)
	_, errs := runner.EvaluateFiles(context.Background(), h.Orchestrator, args, flagParallel, printOutcome)
	for _, err := range errs {
		color.New(color.FgRed).Printf("  ERROR: %v\n", err)
	}

	fmt.Println("\n--- Results ---")
	return report.Generate(runDir, "table", os.Stdout)
}

func printOutcome(fo runner.FileOutcome) {
	o := fo.Outcome
	stateColor(o.State).Printf("  %s: %s", fo.Path, o.State)
	fmt.Printf(" (%s, %dms) %s\n", o.RunID, o.DurationMS, o.Message)
}

func stateColor(state string) *color.Color {
	switch state {
	case "Completed":
		return color.New(color.FgGreen)
	case "Rejected":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
