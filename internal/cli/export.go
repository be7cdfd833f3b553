package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
)

var flagOutput string

var exportCmd = &cobra.Command{
	Use:   "export <pipeline>",
	Short: "Print a pipeline's effective configuration as YAML",
	Long: `Load a pipeline, apply defaults, and write the resulting YAML to stdout or
a file. Useful for seeding loop queues: export into
.agent-pipeline/loops/<sessionId>/pending/ to queue a pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		cfg, err := config.LoadFromRepo(a.repoDir, args[0])
		if err != nil {
			return &exitError{code: exitValidation, msg: err.Error()}
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}

		if flagOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(flagOutput, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", flagOutput, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", cfg.Name, flagOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write to a file instead of stdout")
}
