package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline...]",
	Short: "Validate pipeline configurations without running them",
	Long: `Check pipeline files against the schema and the full rule set: stage names,
dependency cycles, agent file existence, condition syntax, timeouts, retry
bounds, and runtime environment. With no arguments every pipeline in the
repository is checked.

Exit code 2 when any pipeline has errors; warnings alone exit 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			names, err = config.ListPipelines(a.repoDir)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pipelines found.")
				return nil
			}
		}

		v := config.NewValidator(a.repoDir)
		w := cmd.OutOrStdout()
		anyErrors := false
		for _, name := range names {
			cfg, err := config.LoadFromRepo(a.repoDir, name)
			if err != nil {
				fmt.Fprintf(w, "%s: error: %v\n", name, err)
				anyErrors = true
				continue
			}
			issues := v.Validate(cfg)
			if len(issues) == 0 {
				fmt.Fprintf(w, "%s: ok\n", name)
				continue
			}
			for _, issue := range issues {
				fmt.Fprintf(w, "%s: %s: %s: %s\n", name, issue.Severity, issue.Field, issue.Message)
				if issue.Suggestion != "" {
					fmt.Fprintf(w, "  hint: %s\n", issue.Suggestion)
				}
			}
			if config.HasErrors(issues) {
				anyErrors = true
			}
		}

		if anyErrors {
			return &exitError{code: exitValidation, msg: "validation failed"}
		}
		return nil
	},
}
