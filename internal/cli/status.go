package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/state"
)

var (
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	stylePartial   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeader    = lipgloss.NewStyle().Bold(true)
)

func styleFor(status state.RunStatus) lipgloss.Style {
	switch status {
	case state.RunCompleted:
		return styleCompleted
	case state.RunFailed, state.RunAborted:
		return styleFailed
	case state.RunPartial:
		return stylePartial
	default:
		return styleMuted
	}
}

var flagRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs and loop sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		if flagRunID != "" {
			ps, err := state.NewStore(a.repoDir).GetRun(flagRunID)
			if err != nil {
				return err
			}
			printRunDetail(cmd, ps)
			return nil
		}

		runs, err := state.NewStore(a.repoDir).GetAllRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
		} else {
			fmt.Fprintln(w, styleHeader.Render("Recent runs"))
			for _, ps := range runs {
				line := fmt.Sprintf("  %-38s %-20s %-10s %s",
					ps.RunID, ps.PipelineName, ps.Status,
					ps.Artifacts.TotalDuration.Round(time.Millisecond))
				fmt.Fprintln(w, styleFor(ps.Status).Render(line))
			}
		}

		sessions, err := state.NewLoopStore(a.repoDir).GetAllSessions()
		if err != nil {
			return err
		}
		if len(sessions) > 0 {
			fmt.Fprintln(w, styleHeader.Render("\nLoop sessions"))
			for _, sess := range sessions {
				fmt.Fprintf(w, "  %-44s %-14s %d iterations\n", sess.SessionID, sess.Status, sess.TotalIterations)
			}
		}
		return nil
	},
}

func printRunDetail(cmd *cobra.Command, ps *state.PipelineState) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("Run %s — %s", ps.RunID, ps.PipelineName)))
	fmt.Fprintf(w, "  Status:   %s\n", styleFor(ps.Status).Render(string(ps.Status)))
	fmt.Fprintf(w, "  Trigger:  %s at %s\n", ps.Trigger.Kind, ps.Trigger.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration: %s\n", ps.Artifacts.TotalDuration.Round(time.Millisecond))
	if ps.Artifacts.WorktreePath != "" {
		fmt.Fprintf(w, "  Worktree: %s\n", ps.Artifacts.WorktreePath)
	}
	if ps.LoopContext != nil {
		fmt.Fprintf(w, "  Loop:     session %s, iteration %d (%s)\n",
			ps.LoopContext.SessionID, ps.LoopContext.IterationNumber, ps.LoopContext.SourceType)
	}

	fmt.Fprintln(w, "  Stages:")
	for _, ex := range ps.Stages {
		line := fmt.Sprintf("    %-20s %-8s %s", ex.StageName, ex.Status, ex.Duration.Round(time.Millisecond))
		if ex.CommitSHA != "" {
			line += "  " + shortSHA(ex.CommitSHA)
		}
		fmt.Fprintln(w, line)
		if ex.ConditionEvaluated && !ex.ConditionResult {
			fmt.Fprintln(w, styleMuted.Render("      condition evaluated false"))
		}
		if ex.Error != nil {
			fmt.Fprintln(w, styleFailed.Render(fmt.Sprintf("      %s [%s]", ex.Error.Message, ex.Error.Code)))
			if ex.Error.Suggestion != "" {
				fmt.Fprintln(w, styleMuted.Render("      hint: "+ex.Error.Suggestion))
			}
		}
		for _, act := range ex.ToolActivity {
			fmt.Fprintln(w, styleMuted.Render("      tool: "+act))
		}
	}

	if n := len(ps.Artifacts.ChangedFiles); n > 0 {
		fmt.Fprintf(w, "  Changed files (%d):\n", n)
		for _, f := range ps.Artifacts.ChangedFiles {
			fmt.Fprintf(w, "    %s\n", f)
		}
	}
}

func init() {
	statusCmd.Flags().StringVar(&flagRunID, "run", "", "show one run in detail")
}
