package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show aggregate pipeline statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		db, err := analytics.Open(analytics.DefaultPath(a.repoDir))
		if err != nil {
			return fmt.Errorf("open analytics: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		summaries, err := db.Summaries()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs yet.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-24s %-6s %-10s %-8s %s\n", "PIPELINE", "RUNS", "SUCCEEDED", "FAILED", "AVG STAGE")
		fmt.Fprintf(w, "%-24s %-6s %-10s %-8s %s\n",
			strings.Repeat("-", 24),
			strings.Repeat("-", 6),
			strings.Repeat("-", 10),
			strings.Repeat("-", 8),
			strings.Repeat("-", 9))
		for _, s := range summaries {
			fmt.Fprintf(w, "%-24s %-6d %-10d %-8d %s\n",
				s.Pipeline, s.Runs, s.Succeeded, s.Failed, s.AvgDuration.Round(time.Millisecond))
		}
		return nil
	},
}
