package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LoopStore persists loop sessions under <repo>/.agent-pipeline/loops.
type LoopStore struct {
	repoDir string
}

// NewLoopStore creates a LoopStore rooted at the given repository directory.
func NewLoopStore(repoDir string) *LoopStore {
	return &LoopStore{repoDir: repoDir}
}

// loopsDir returns the directory holding session records and queues.
func (s *LoopStore) loopsDir() string {
	return filepath.Join(s.repoDir, DirName, "loops")
}

// sessionPath returns the JSON path for a session ID.
func (s *LoopStore) sessionPath(sessionID string) string {
	return filepath.Join(s.loopsDir(), sessionID+".json")
}

// SessionDir returns the per-session queue root (pending/, running/, ...).
func (s *LoopStore) SessionDir(sessionID string) string {
	return filepath.Join(s.loopsDir(), sessionID)
}

// StartSession creates and persists a new in-progress session record.
func (s *LoopStore) StartSession(sessionID string, maxIterations int) (*LoopSession, error) {
	sess := &LoopSession{
		SessionID:     sessionID,
		StartTime:     time.Now().UTC(),
		Status:        SessionInProgress,
		MaxIterations: maxIterations,
		Iterations:    []LoopIteration{},
	}
	if err := WriteJSON(s.sessionPath(sessionID), sess); err != nil {
		return nil, fmt.Errorf("write session %s: %w", sessionID, err)
	}
	return sess, nil
}

// GetSession reads a session by ID.
func (s *LoopStore) GetSession(sessionID string) (*LoopSession, error) {
	var sess LoopSession
	if err := ReadJSON(s.sessionPath(sessionID), &sess); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, err
	}
	return &sess, nil
}

// update performs a read-modify-write of the session record.
func (s *LoopStore) update(sessionID string, fn func(*LoopSession)) (*LoopSession, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	fn(sess)
	sess.TotalIterations = len(sess.Iterations)
	if err := WriteJSON(s.sessionPath(sessionID), sess); err != nil {
		return nil, fmt.Errorf("write session %s: %w", sessionID, err)
	}
	return sess, nil
}

// AppendIteration records a new in-progress iteration before it executes.
func (s *LoopStore) AppendIteration(sessionID string, it LoopIteration) (*LoopSession, error) {
	return s.update(sessionID, func(sess *LoopSession) {
		sess.Iterations = append(sess.Iterations, it)
	})
}

// UpdateIteration mutates the iteration with the given number in place.
func (s *LoopStore) UpdateIteration(sessionID string, iterationNumber int, fn func(*LoopIteration)) (*LoopSession, error) {
	return s.update(sessionID, func(sess *LoopSession) {
		for i := range sess.Iterations {
			if sess.Iterations[i].IterationNumber == iterationNumber {
				fn(&sess.Iterations[i])
				return
			}
		}
	})
}

// CompleteSession sets the terminal status and end time.
func (s *LoopStore) CompleteSession(sessionID string, status SessionStatus) (*LoopSession, error) {
	return s.update(sessionID, func(sess *LoopSession) {
		now := time.Now().UTC()
		sess.Status = status
		sess.EndTime = &now
	})
}

// GetAllSessions enumerates every persisted session, oldest first.
// Corrupt files are skipped.
func (s *LoopStore) GetAllSessions() ([]LoopSession, error) {
	entries, err := os.ReadDir(s.loopsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.loopsDir(), err)
	}

	var sessions []LoopSession
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var sess LoopSession
		if err := ReadJSON(filepath.Join(s.loopsDir(), entry.Name()), &sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, nil
}

// QueueStates are the queue subdirectories of a loop session.
var QueueStates = []string{"pending", "running", "finished", "failed"}

// CreateSessionDirectories creates the pending/running/finished/failed queue
// directories for a session under the given repository.
func (s *LoopStore) CreateSessionDirectories(sessionID string, repoDir string) error {
	root := filepath.Join(repoDir, DirName, "loops", sessionID)
	for _, sub := range QueueStates {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Join(root, sub), err)
		}
	}
	return nil
}
