package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List target contracts and expected vulnerabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(cfgFile)
			if err != nil {
				return err
			}
			cat, err := cfg.BuildCatalog()
			if err != nil {
				return err
			}
			fmt.Println("Contracts:")
			for _, f := range cat.ContractFiles() {
				fmt.Printf("  - %s\n", f)
			}
			fmt.Println("\nExpected vulnerabilities:")
			for _, e := range cat.Entries() {
				lo, hi := e.Range(cfg.Scoring.LineTolerance)
				fmt.Printf("  - %s: %s (severity %.1f, lines %d-%d)\n", e.Contract, e.Type, e.Severity, lo, hi)
			}
			fmt.Printf("\nSandbox backend: %s\n", cfg.Sandbox.Backend)
			return nil
		},
	}
}
