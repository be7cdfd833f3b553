package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agentpipe/agentpipe/internal/config"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pipeline interactively",
	Long: `Walk through a short form and write a starter pipeline under
.agent-pipeline/pipelines/, plus a stub agent prompt file if the referenced
one doesn't exist yet. Requires an interactive terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("create needs an interactive terminal; write the YAML under %s instead", config.PipelinesDir)
		}

		var (
			name      string
			trigger   = "manual"
			stageName = "main"
			agentPath string
			mode      = config.ModeParallel
			branching = config.BranchNone
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Pipeline name").
					Description("Becomes the file name under .agent-pipeline/pipelines/").
					Value(&name).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),
				huh.NewSelect[string]().
					Title("Trigger").
					Options(huh.NewOptions(config.TriggerKinds...)...).
					Value(&trigger),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("First stage name").
					Value(&stageName),
				huh.NewInput().
					Title("Agent prompt file").
					Description("Relative to the repository, e.g. .agent-pipeline/agents/main.md").
					Value(&agentPath),
				huh.NewSelect[string]().
					Title("Execution mode").
					Options(huh.NewOptions(config.ModeParallel, config.ModeSequential)...).
					Value(&mode),
				huh.NewSelect[string]().
					Title("Branch strategy").
					Options(huh.NewOptions(config.BranchNone, config.BranchReusable, config.BranchEphemeral)...).
					Value(&branching),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		if agentPath == "" {
			agentPath = filepath.Join(config.AgentsDir, stageName+".md")
		}

		cfg := &config.PipelineConfig{
			Name:    name,
			Trigger: trigger,
			Agents: []config.AgentStage{
				{Name: stageName, Agent: agentPath},
			},
		}
		cfg.Settings.ExecutionMode = mode
		cfg.Git.BranchStrategy = branching

		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}

		path := config.PipelinePath(a.repoDir, name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("pipeline %q already exists at %s", name, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}

		agentFull := filepath.Join(a.repoDir, agentPath)
		if _, err := os.Stat(agentFull); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(agentFull), 0o755); err != nil {
				return err
			}
			stub := fmt.Sprintf("You are the %s stage of the %s pipeline.\n\nDescribe the task for this agent here.\n", stageName, name)
			if err := os.WriteFile(agentFull, []byte(stub), 0o644); err != nil {
				return fmt.Errorf("write agent stub: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created agent stub %s\n", agentPath)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created pipeline %s\n", path)
		return nil
	},
}
