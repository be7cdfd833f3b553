// Package github creates pull requests through the gh CLI.
package github

import (
	"fmt"
	"os/exec"
	"strings"
)

// CmdRunner executes gh commands. Interface for testing.
type CmdRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecRunner runs gh via exec.Command.
type ExecRunner struct{}

func (r *ExecRunner) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides the GitHub operations the runner needs.
type Client struct {
	cmd CmdRunner
	dir string
}

// NewClient creates a GitHub client rooted at a repository directory.
func NewClient(cmd CmdRunner, dir string) *Client {
	return &Client{cmd: cmd, dir: dir}
}

// CreatePROpts configures pull request creation.
type CreatePROpts struct {
	Branch string
	Base   string
	Title  string
	Body   string
}

// CreatePR opens a pull request for a pushed branch and returns its URL.
func (c *Client) CreatePR(opts CreatePROpts) (string, error) {
	args := []string{"pr", "create", "--head", opts.Branch, "--title", opts.Title, "--body", opts.Body}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	out, err := c.cmd.Run(c.dir, args...)
	if err != nil {
		return "", fmt.Errorf("create pr: %w", err)
	}
	// gh prints the PR URL as the last line.
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// AuthStatus reports whether gh is installed and authenticated.
func (c *Client) AuthStatus() error {
	if _, err := c.cmd.Run("", "auth", "status"); err != nil {
		return fmt.Errorf("gh not authenticated: %w", err)
	}
	return nil
}
