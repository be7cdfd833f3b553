package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentpipe/agentpipe/internal/state"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRecordAndSummarize(t *testing.T) {
	db := openTestDB(t)

	execs := []struct {
		runID  string
		stage  string
		status state.StageStatus
	}{
		{"run-1", "lint", state.StageSuccess},
		{"run-1", "test", state.StageFailed},
		{"run-2", "lint", state.StageSuccess},
	}
	for _, e := range execs {
		ex := state.StageExecution{
			StageName: e.stage,
			Status:    e.status,
			Duration:  2 * time.Second,
			TokenUsage: &state.TokenUsage{
				ActualInput: 100,
				Output:      50,
			},
		}
		if err := db.RecordStageExecution(e.runID, "ci", ex); err != nil {
			t.Fatalf("RecordStageExecution: %v", err)
		}
	}
	if err := db.RecordEvent("run-1", "ci", "", "pipeline.completed", ""); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	summaries, err := db.Summaries()
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries", len(summaries))
	}
	s := summaries[0]
	if s.Pipeline != "ci" || s.Runs != 2 || s.Succeeded != 2 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.AvgDuration != 2*time.Second {
		t.Errorf("avg duration = %v", s.AvgDuration)
	}
}

func TestRecordStageExecutionWithoutTokens(t *testing.T) {
	db := openTestDB(t)
	ex := state.StageExecution{StageName: "lint", Status: state.StageSkipped}
	if err := db.RecordStageExecution("run-1", "ci", ex); err != nil {
		t.Fatalf("RecordStageExecution: %v", err)
	}
}
