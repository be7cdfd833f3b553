package gitx

import (
	"fmt"
	"strings"
	"testing"
)

func TestListWorktreesPorcelain(t *testing.T) {
	git := newFakeGit()
	git.responses["worktree list --porcelain"] = strings.Join([]string{
		"worktree /repo",
		"HEAD aaaa",
		"branch refs/heads/main",
		"",
		"worktree /repo/.agent-pipeline/worktrees/x",
		"HEAD bbbb",
		"detached",
		"",
	}, "\n")
	repo := NewRepo(git, "/repo")

	wts, err := repo.ListWorktrees()
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(wts) != 2 {
		t.Fatalf("got %d worktrees", len(wts))
	}
	if wts[0].Branch != "main" {
		t.Errorf("refs/heads/ not stripped: %q", wts[0].Branch)
	}
	if !wts[1].Detached || wts[1].Branch != "" {
		t.Errorf("detached worktree parsed wrong: %+v", wts[1])
	}
}

func TestCreateWorktreeBranchAlreadyCheckedOut(t *testing.T) {
	git := newFakeGit()
	git.responses["worktree list --porcelain"] = "worktree /elsewhere\nHEAD aaaa\nbranch refs/heads/pipeline/x"
	repo := NewRepo(git, "/repo")

	err := repo.CreateWorktree("/repo/wt", "pipeline/x", "main")
	if err == nil || !strings.Contains(err.Error(), "already checked out at /elsewhere") {
		t.Errorf("err = %v", err)
	}
}

func TestCreateWorktreeOriginFallback(t *testing.T) {
	git := newFakeGit()
	git.errors["worktree add -b feat /wt origin/main"] = fmt.Errorf("fatal: invalid reference: origin/main")
	repo := NewRepo(git, "/repo")

	if err := repo.CreateWorktree("/wt", "feat", "main"); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	last := git.lastCall()
	want := "worktree add -b feat /wt main"
	if strings.Join(last, " ") != want {
		t.Errorf("fallback call = %v, want %q", last, want)
	}
}

func TestCreateWorktreeExistingBranch(t *testing.T) {
	git := newFakeGit()
	git.errors["worktree add -b feat /wt origin/main"] = fmt.Errorf("fatal: invalid reference")
	git.errors["worktree add -b feat /wt main"] = fmt.Errorf("fatal: a branch named 'feat' already exists")
	repo := NewRepo(git, "/repo")

	if err := repo.CreateWorktree("/wt", "feat", "main"); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	last := strings.Join(git.lastCall(), " ")
	if last != "worktree add /wt feat" {
		t.Errorf("expected plain add of existing branch, got %q", last)
	}
}

func TestRemoveWorktreeForce(t *testing.T) {
	git := newFakeGit()
	repo := NewRepo(git, "/repo")
	if err := repo.RemoveWorktree("/wt", true); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if got := strings.Join(git.lastCall(), " "); got != "worktree remove --force /wt" {
		t.Errorf("args = %q", got)
	}
}
