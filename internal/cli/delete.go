package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
)

var flagForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <pipeline>",
	Short: "Delete a pipeline file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		name := args[0]

		var path string
		for _, ext := range []string{".yml", ".yaml"} {
			p := filepath.Join(a.repoDir, config.PipelinesDir, name+ext)
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			return fmt.Errorf("pipeline %q not found", name)
		}

		if !flagForce {
			fmt.Fprintf(cmd.OutOrStdout(), "Delete %s? [y/N] ", path)
			var answer string
			fmt.Fscanln(cmd.InOrStdin(), &answer)
			if answer != "y" && answer != "Y" {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", path)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "skip the confirmation prompt")
}
