package gitx

import (
	"fmt"
	"strings"
)

// Worktree is one record parsed from `git worktree list --porcelain`.
type Worktree struct {
	Path     string
	Head     string
	Branch   string // short name, refs/heads/ stripped; "" when detached
	Bare     bool
	Detached bool
}

// ListWorktrees parses the porcelain worktree listing.
func (r *Repo) ListWorktrees() ([]Worktree, error) {
	out, err := r.git.Run(r.dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Worktree
	var current *Worktree
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.Bare = true
		case line == "detached":
			current.Detached = true
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees, nil
}

// CreateWorktree adds a worktree at path on the given branch. When the branch
// must be created, it is based on origin/<base> with a fallback to <base>.
// If the branch is already checked out in another worktree the error names
// where.
func (r *Repo) CreateWorktree(path string, branch string, base string) error {
	worktrees, err := r.ListWorktrees()
	if err == nil {
		for _, wt := range worktrees {
			if wt.Branch == branch {
				return fmt.Errorf("branch %q is already checked out at %s", branch, wt.Path)
			}
		}
	}

	if base == "" {
		base = "HEAD"
	}

	_, err = r.git.Run(r.dir, "worktree", "add", "-b", branch, path, "origin/"+base)
	if err == nil {
		return nil
	}

	_, err2 := r.git.Run(r.dir, "worktree", "add", "-b", branch, path, base)
	if err2 == nil {
		return nil
	}

	// The -b attempts may have failed because the branch already exists
	// (possibly created by a racing first attempt). Check it out directly.
	if r.BranchExists(branch) {
		if _, err3 := r.git.Run(r.dir, "worktree", "add", path, branch); err3 == nil {
			return nil
		}
	}

	return fmt.Errorf("create worktree %s: %w", path, err2)
}

// RemoveWorktree removes a worktree, optionally forcing past uncommitted work.
func (r *Repo) RemoveWorktree(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.git.Run(r.dir, args...)
	return err
}

// PruneWorktrees drops stale worktree administrative entries.
func (r *Repo) PruneWorktrees() error {
	_, err := r.git.Run(r.dir, "worktree", "prune")
	return err
}
