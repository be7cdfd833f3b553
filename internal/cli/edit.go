package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
)

var editCmd = &cobra.Command{
	Use:   "edit <pipeline>",
	Short: "Open a pipeline in $EDITOR and revalidate it",
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

		editor := os.Getenv("VISUAL")
		if editor == "" {
			editor = os.Getenv("EDITOR")
		}
		if editor == "" {
			editor = "vi"
		}

		ed := exec.CommandContext(cmd.Context(), editor, path)
		ed.Stdin = os.Stdin
		ed.Stdout = os.Stdout
		ed.Stderr = os.Stderr
		if err := ed.Run(); err != nil {
			return fmt.Errorf("editor %s: %w", editor, err)
		}

		cfg, err := config.Load(path)
		if err != nil {
			return &exitError{code: exitValidation, msg: err.Error()}
		}
		return validateConfig(cmd, a.repoDir, cfg)
	},
}
