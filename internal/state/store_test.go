package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleState(runID string) *PipelineState {
	return &PipelineState{
		RunID:        runID,
		PipelineName: "ci",
		Trigger:      Trigger{Kind: "manual", InitialCommit: "aaa", StartedAt: time.Now().UTC()},
		Status:       RunRunning,
		Stages: []StageExecution{
			{StageName: "lint", Status: StageSuccess, CommitSHA: "bbb"},
		},
		Artifacts: Artifacts{InitialCommit: "aaa", ChangedFiles: []string{"x.go"}},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	ps := sampleState("run-1")

	if err := store.SaveState(ps); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.PipelineName != "ci" || got.Status != RunRunning {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Stages) != 1 || got.Stages[0].StageName != "lint" {
		t.Errorf("stages lost: %+v", got.Stages)
	}
}

func TestStoreRejectsEmptyRunID(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.SaveState(&PipelineState{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestStoreGetRunMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.GetRun("nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestGetAllRunsSkipsCorruptAndSorts(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	for _, id := range []string{"run-2", "run-1"} {
		if err := store.SaveState(sampleState(id)); err != nil {
			t.Fatalf("SaveState %s: %v", id, err)
		}
	}
	runsDir := filepath.Join(dir, DirName, "state", "runs")
	if err := os.WriteFile(filepath.Join(runsDir, "garbage.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runsDir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs, err := store.GetAllRuns()
	if err != nil {
		t.Fatalf("GetAllRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "run-1" || runs[1].RunID != "run-2" {
		t.Errorf("runs not sorted by id: %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestGetAllRunsEmptyRepo(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "no-such-repo"))
	runs, err := store.GetAllRuns()
	if err != nil || runs != nil {
		t.Errorf("missing dir should be empty, got %v, %v", runs, err)
	}
}

func TestDeleteRun(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.SaveState(sampleState("run-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteRun("run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if err := store.DeleteRun("run-1"); err == nil {
		t.Fatal("second delete should report not found")
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := WriteAtomic(path, []byte("{}")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestWriteAtomicOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteAtomic(path, []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, []byte("new")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("content = %q", data)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var v map[string]string
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if !os.IsNotExist(err) {
		t.Errorf("want a bare os not-exist error, got %v", err)
	}
}

func TestCloneIsStructuralCopy(t *testing.T) {
	ps := sampleState("run-1")
	ps.Stages[0].Error = &StageError{Message: "boom"}
	ps.Stages[0].ToolActivity = []string{"Read", "Edit"}

	c := ps.Clone()
	if c == ps {
		t.Fatal("clone must be a new object")
	}
	c.Stages[0].Status = StageFailed
	c.Stages[0].Error.Message = "changed"
	c.Stages[0].ToolActivity[0] = "changed"
	c.Artifacts.ChangedFiles[0] = "changed"

	if ps.Stages[0].Status != StageSuccess {
		t.Error("stage slice shared with clone")
	}
	if ps.Stages[0].Error.Message != "boom" {
		t.Error("error pointer shared with clone")
	}
	if ps.Stages[0].ToolActivity[0] != "Read" {
		t.Error("tool activity shared with clone")
	}
	if ps.Artifacts.ChangedFiles[0] != "x.go" {
		t.Error("changed files shared with clone")
	}
}

func TestFindStage(t *testing.T) {
	ps := sampleState("run-1")
	if ps.FindStage("lint") == nil {
		t.Error("FindStage missed existing stage")
	}
	if ps.FindStage("nope") != nil {
		t.Error("FindStage invented a stage")
	}
}
