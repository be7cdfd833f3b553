package engine

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/gitx"
	"github.com/agentpipe/agentpipe/internal/state"
)

// BranchSetup describes the branch and optional worktree a run executes in.
type BranchSetup struct {
	Branch         string // "" when strategy is none
	OriginalBranch string
	WorktreePath   string // "" when running in place
	Ephemeral      bool
}

// WorkDir returns the directory the run's stages execute in.
func (b *BranchSetup) WorkDir(repoDir string) string {
	if b.WorktreePath != "" {
		return b.WorktreePath
	}
	return repoDir
}

// BranchManager applies a pipeline's branch strategy: a stable reusable
// branch, a fresh ephemeral branch per run, or in-place execution. Worktrees
// isolate the run when the pipeline asks for them.
type BranchManager struct {
	repo *gitx.Repo
	log  zerolog.Logger
}

// NewBranchManager creates a BranchManager over the main repository.
func NewBranchManager(repo *gitx.Repo, log zerolog.Logger) *BranchManager {
	return &BranchManager{repo: repo, log: log.With().Str("component", "branch").Logger()}
}

var branchSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

func sanitizeBranch(name string) string {
	s := branchSanitizeRe.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// SetupPipelineBranch prepares the branch and worktree for a run according
// to the pipeline's git policy. With strategy none it only records the
// original branch.
func (m *BranchManager) SetupPipelineBranch(policy config.GitPolicy, pipelineName string, runID string) (*BranchSetup, error) {
	original, err := m.repo.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("resolve current branch: %w", err)
	}
	setup := &BranchSetup{OriginalBranch: original}

	strategy := policy.EffectiveBranchStrategy()
	if strategy == config.BranchNone {
		return setup, nil
	}

	prefix := policy.BranchPrefix
	if prefix == "" {
		prefix = "pipeline"
	}

	switch strategy {
	case config.BranchReusable:
		setup.Branch = sanitizeBranch(prefix + "/" + pipelineName)
	case config.BranchEphemeral:
		setup.Branch = sanitizeBranch(prefix + "/" + runID)
		setup.Ephemeral = true
	default:
		return nil, fmt.Errorf("unknown branch strategy %q", strategy)
	}

	base := policy.BaseBranch
	if base == "" {
		base = original
	}

	if policy.UseWorktree {
		setup.WorktreePath = filepath.Join(m.repo.Dir(), state.DirName, "worktrees", sanitizeBranch(pipelineName+"-"+runID))
		if err := m.repo.CreateWorktree(setup.WorktreePath, setup.Branch, base); err != nil {
			return nil, fmt.Errorf("create worktree: %w", err)
		}
		m.log.Info().Str("branch", setup.Branch).Str("worktree", setup.WorktreePath).Msg("worktree created")
		return setup, nil
	}

	if strategy == config.BranchReusable && m.repo.BranchExists(setup.Branch) {
		// Reset the stable branch to base so each run starts clean.
		if err := m.repo.ResetBranchTo(setup.Branch, base); err != nil {
			return nil, fmt.Errorf("reset branch %q: %w", setup.Branch, err)
		}
	} else if !m.repo.BranchExists(setup.Branch) {
		if err := m.repo.CreateBranch(setup.Branch, base); err != nil {
			return nil, fmt.Errorf("create branch %q: %w", setup.Branch, err)
		}
	}
	if err := m.repo.CheckoutBranch(setup.Branch); err != nil {
		return nil, fmt.Errorf("checkout branch %q: %w", setup.Branch, err)
	}
	m.log.Info().Str("branch", setup.Branch).Msg("pipeline branch checked out")
	return setup, nil
}

// Teardown restores the repository after a run: ephemeral worktrees are
// destroyed, the original branch is restored, and ephemeral branches are
// deleted. Errors are logged, not returned; finalize must not fail the run.
func (m *BranchManager) Teardown(setup *BranchSetup, policy config.GitPolicy) {
	if setup == nil {
		return
	}

	if setup.WorktreePath != "" && setup.Ephemeral {
		if err := m.repo.RemoveWorktree(setup.WorktreePath, true); err != nil {
			m.log.Warn().Err(err).Str("worktree", setup.WorktreePath).Msg("remove worktree failed")
		}
		if err := m.repo.PruneWorktrees(); err != nil {
			m.log.Warn().Err(err).Msg("prune worktrees failed")
		}
	}

	// In-place strategies switched branches; put the operator back where
	// they were. preserveWorkingTree skips the checkout when the tree is
	// dirty so uncommitted agent work isn't clobbered.
	if setup.WorktreePath == "" && setup.Branch != "" && setup.OriginalBranch != "" {
		if policy.PreserveWorkingTreeEnabled() {
			if dirty, err := m.repo.HasUncommittedChanges(); err == nil && dirty {
				m.log.Warn().Str("branch", setup.Branch).Msg("working tree dirty; staying on pipeline branch")
				return
			}
		}
		if err := m.repo.CheckoutBranch(setup.OriginalBranch); err != nil {
			m.log.Warn().Err(err).Str("branch", setup.OriginalBranch).Msg("restore original branch failed")
			return
		}
	}

	if setup.Ephemeral && setup.Branch != "" && setup.WorktreePath == "" {
		if err := m.repo.DeleteBranch(setup.Branch); err != nil {
			m.log.Warn().Err(err).Str("branch", setup.Branch).Msg("delete ephemeral branch failed")
		}
	}
}
