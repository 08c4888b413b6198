package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/leaderboard"
)

var flagLimit int

func newLeaderboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the best scoring runs",
		Long:  "Read the leaderboard store directly. The store is locked while serve is running; query GET /v1/leaderboard instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := leaderboard.Open(leaderboard.Options{Dir: cfg.Leaderboard.Dir, Logger: log})
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Top(flagLimit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				color.New(color.FgYellow).Println("Leaderboard is empty.")
				return nil
			}
			return writeLeaderboard(entries)
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 10, "number of rows")
	return cmd
}

func writeLeaderboard(entries []leaderboard.Entry) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tAGENT\tOVERALL\tDETECTION\tFINDINGS\tFALSE POS\tSUBMITTED")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%d\t%d\t%s\n",
			i+1, e.AgentID, e.Scores.Overall, e.Scores.Detection, e.FindingsCount, e.FalsePositives,
			e.SubmittedAt.Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	color.New(color.FgGreen, color.Bold).Printf("Leader: %s (%.3f)\n", entries[0].AgentID, entries[0].Scores.Overall)
	return nil
}
