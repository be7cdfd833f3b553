package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirName is the dot-directory agentpipe keeps inside a repository.
const DirName = ".agent-pipeline"

// Store persists pipeline run state under <repo>/.agent-pipeline/state/runs.
type Store struct {
	repoDir string
}

// NewStore creates a Store rooted at the given repository directory.
func NewStore(repoDir string) *Store {
	return &Store{repoDir: repoDir}
}

// RepoDir returns the repository the store is rooted at.
func (s *Store) RepoDir() string {
	return s.repoDir
}

// runsDir returns the directory holding per-run JSON files.
func (s *Store) runsDir() string {
	return filepath.Join(s.repoDir, DirName, "state", "runs")
}

// runPath returns the JSON path for a run ID.
func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runsDir(), runID+".json")
}

// SaveState writes the run state atomically (write-temp-then-rename).
func (s *Store) SaveState(ps *PipelineState) error {
	if ps.RunID == "" {
		return fmt.Errorf("save state: empty run id")
	}
	return WriteJSON(s.runPath(ps.RunID), ps)
}

// GetRun reads a single run by ID.
func (s *Store) GetRun(runID string) (*PipelineState, error) {
	var ps PipelineState
	if err := ReadJSON(s.runPath(runID), &ps); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &ps, nil
}

// GetAllRuns enumerates every persisted run, sorted by run ID (UUIDv7 run IDs
// make this chronological). Corrupt files are skipped.
func (s *Store) GetAllRuns() ([]PipelineState, error) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.runsDir(), err)
	}

	var runs []PipelineState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var ps PipelineState
		if err := ReadJSON(filepath.Join(s.runsDir(), entry.Name()), &ps); err != nil {
			continue // skip corrupt files
		}
		runs = append(runs, ps)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

// DeleteRun removes a run's state file.
func (s *Store) DeleteRun(runID string) error {
	if err := os.Remove(s.runPath(runID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %s not found", runID)
		}
		return err
	}
	return nil
}
