// Package gitx is a thin porcelain wrapper over a git repository: commits,
// diffs, status, branches, and worktrees.
package gitx

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Runner executes git commands. Interface for testing.
type Runner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements Runner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Repo provides porcelain operations against one repository directory.
// It holds no mutable state; every call shells out.
type Repo struct {
	git Runner
	dir string
}

// NewRepo creates a Repo for the given directory.
func NewRepo(git Runner, dir string) *Repo {
	return &Repo{git: git, dir: dir}
}

// Dir returns the repository directory.
func (r *Repo) Dir() string {
	return r.dir
}

// WithDir returns a Repo for a different directory, reusing the same Runner.
func (r *Repo) WithDir(dir string) *Repo {
	return &Repo{git: r.git, dir: dir}
}

// CurrentCommit returns the HEAD SHA, or "" when the repository has no
// commits yet.
func (r *Repo) CurrentCommit() string {
	out, err := r.git.Run(r.dir, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// CurrentBranch returns the checked-out branch name, or "" when detached.
func (r *Repo) CurrentBranch() (string, error) {
	out, err := r.git.Run(r.dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		return "", nil
	}
	return out, nil
}

// ChangedFiles lists paths changed between sha and HEAD. For an orphan or
// parentless sha where diff has no edge to walk, git reports "ambiguous
// argument" or "unknown revision"; in that case fall back to listing every
// tracked file at sha.
func (r *Repo) ChangedFiles(sha string) ([]string, error) {
	if sha == "" {
		return nil, nil
	}
	out, err := r.git.Run(r.dir, "diff", "--name-only", sha, "HEAD")
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "ambiguous argument") || strings.Contains(msg, "unknown revision") {
			out, err = r.git.Run(r.dir, "ls-tree", "-r", "--name-only", sha)
			if err != nil {
				return nil, fmt.Errorf("ls-tree fallback: %w", err)
			}
		} else {
			return nil, err
		}
	}
	return splitLines(out), nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (r *Repo) HasUncommittedChanges() (bool, error) {
	out, err := r.git.Run(r.dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// StageAll stages every change in the working tree.
func (r *Repo) StageAll() error {
	_, err := r.git.Run(r.dir, "add", "-A")
	return err
}

// CommitWithTrailers commits staged changes with RFC-822-style trailers
// appended after a blank line, bypassing hooks. Returns the new commit SHA.
func (r *Repo) CommitWithTrailers(msg string, trailers map[string]string) (string, error) {
	full := msg
	if len(trailers) > 0 {
		keys := make([]string, 0, len(trailers))
		for k := range trailers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, trailers[k]))
		}
		full = msg + "\n\n" + strings.Join(lines, "\n")
	}

	if _, err := r.git.Run(r.dir, "commit", "--no-verify", "-m", full); err != nil {
		return "", err
	}
	return r.git.Run(r.dir, "rev-parse", "HEAD")
}

// DefaultCommitPrefix is the subject prefix used when a pipeline commit
// doesn't configure its own. {{stage}} is substituted with the stage name.
const DefaultCommitPrefix = "[pipeline:{{stage}}]"

// PipelineCommit stages everything and commits on behalf of a stage. Returns
// "" (not an error) when there is nothing to commit. The subject line is the
// substituted prefix joined to the message; a prefix that already ends with a
// space gets no extra separator.
func (r *Repo) PipelineCommit(stage string, runID string, customMsg string, prefix string) (string, error) {
	dirty, err := r.HasUncommittedChanges()
	if err != nil {
		return "", err
	}
	if !dirty {
		return "", nil
	}

	if err := r.StageAll(); err != nil {
		return "", fmt.Errorf("stage all: %w", err)
	}

	if prefix == "" {
		prefix = DefaultCommitPrefix
	}
	prefix = strings.ReplaceAll(prefix, "{{stage}}", stage)

	msg := customMsg
	if msg == "" {
		msg = fmt.Sprintf("Apply %s changes", stage)
	}

	subject := prefix + msg
	if !strings.HasSuffix(prefix, " ") {
		subject = prefix + " " + msg
	}

	return r.CommitWithTrailers(subject, map[string]string{
		"Agent-Pipeline":  "true",
		"Pipeline-Run-ID": runID,
		"Pipeline-Stage":  stage,
	})
}

// RevertToCommit hard-resets the working tree to the given commit.
func (r *Repo) RevertToCommit(sha string) error {
	_, err := r.git.Run(r.dir, "reset", "--hard", sha)
	return err
}

// GetCommitMessage returns the full commit message for a SHA.
func (r *Repo) GetCommitMessage(sha string) (string, error) {
	return r.git.Run(r.dir, "log", "-1", "--format=%B", sha)
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.git.Run(r.dir, "rev-parse", "--verify", "refs/heads/"+name)
	return err == nil
}

// CreateBranch creates a branch at base (or HEAD when base is "").
func (r *Repo) CreateBranch(name string, base string) error {
	args := []string{"branch", name}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.git.Run(r.dir, args...)
	return err
}

// CheckoutBranch switches the working tree to a branch.
func (r *Repo) CheckoutBranch(name string) error {
	_, err := r.git.Run(r.dir, "checkout", name)
	return err
}

// ResetBranchTo forces a branch to point at base, creating it if missing.
func (r *Repo) ResetBranchTo(name string, base string) error {
	_, err := r.git.Run(r.dir, "branch", "-f", name, base)
	return err
}

// Push pushes a branch to origin, setting upstream.
func (r *Repo) Push(branch string) error {
	_, err := r.git.Run(r.dir, "push", "-u", "origin", branch)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repo) DeleteBranch(name string) error {
	_, err := r.git.Run(r.dir, "branch", "-D", name)
	return err
}

// splitLines splits command output into trimmed, non-empty lines.
func splitLines(out string) []string {
	var result []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}
