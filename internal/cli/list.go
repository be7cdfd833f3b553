package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/plan"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipelines in the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		names, err := config.ListPipelines(a.repoDir)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pipelines found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-24s %-12s %-8s %-8s %s\n", "NAME", "TRIGGER", "STAGES", "GROUPS", "MODE")
		fmt.Fprintf(w, "%-24s %-12s %-8s %-8s %s\n",
			strings.Repeat("-", 24),
			strings.Repeat("-", 12),
			strings.Repeat("-", 8),
			strings.Repeat("-", 8),
			strings.Repeat("-", 4))
		for _, name := range names {
			cfg, err := config.LoadFromRepo(a.repoDir, name)
			if err != nil {
				fmt.Fprintf(w, "%-24s (unreadable: %v)\n", name, err)
				continue
			}
			res := plan.Plan(cfg.Agents)
			groups := fmt.Sprintf("%d", len(res.Graph.Groups))
			if res.CycleErr != nil {
				groups = "cycle!"
			}
			fmt.Fprintf(w, "%-24s %-12s %-8d %-8s %s\n",
				cfg.Name, cfg.Trigger, len(cfg.Agents), groups, cfg.Settings.EffectiveExecutionMode())
		}
		return nil
	},
}
