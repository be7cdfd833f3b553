package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/state"
)

// runStub plays the pipeline runner: each pipeline name maps to a terminal
// status, and onSeed lets a test enqueue files mid-session the way an agent
// would.
type runStub struct {
	statuses    map[string]state.RunStatus
	errs        map[string]error
	onSeed      func(sessionDir string)
	calls       []string
	sourceTypes []string
}

func (s *runStub) bind(store *state.LoopStore) RunFunc {
	return func(_ context.Context, cfg *config.PipelineConfig, loopCtx *state.LoopContext) (*state.PipelineState, error) {
		s.calls = append(s.calls, cfg.Name)
		s.sourceTypes = append(s.sourceTypes, loopCtx.SourceType)
		if loopCtx.IterationNumber == 1 && s.onSeed != nil {
			s.onSeed(store.SessionDir(loopCtx.SessionID))
		}
		if err := s.errs[cfg.Name]; err != nil {
			return nil, err
		}
		status := s.statuses[cfg.Name]
		if status == "" {
			status = state.RunCompleted
		}
		return &state.PipelineState{RunID: "run-" + cfg.Name, PipelineName: cfg.Name, Status: status}, nil
	}
}

func seedConfig(maxIterations int) *config.PipelineConfig {
	return &config.PipelineConfig{
		Name:    "seed",
		Trigger: "manual",
		Looping: config.Looping{Enabled: true, MaxIterations: maxIterations},
	}
}

// enqueueTask drops a loadable pipeline file into a session's pending queue.
func enqueueTask(t *testing.T, sessionDir, fileName, pipelineName string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(sessionDir, "pending", fileName)
	yaml := fmt.Sprintf("name: %s\nagents:\n  - name: work\n    agent: agents/work.md\n", pipelineName)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func listQueue(t *testing.T, sessionDir, status string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(sessionDir, status))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newTestScheduler(t *testing.T, stub *runStub) (*Scheduler, *state.LoopStore) {
	t.Helper()
	repoDir := t.TempDir()
	store := state.NewLoopStore(repoDir)
	return NewScheduler(repoDir, store, stub.bind(store), zerolog.Nop()), store
}

func TestSchedulerDrainsQueueInMtimeOrder(t *testing.T) {
	now := time.Now()
	stub := &runStub{onSeed: func(dir string) {
		enqueueTask(t, dir, "task2.yml", "task2", now)
		enqueueTask(t, dir, "task1.yml", "task1", now.Add(-time.Hour))
	}}
	s, store := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionCompleted, session.Status)
	assert.Equal(t, 3, session.TotalIterations)
	assert.Equal(t, []string{"seed", "task1", "task2"}, stub.calls)
	assert.Equal(t, []string{SourceLibrary, SourcePending, SourcePending}, stub.sourceTypes)

	require.Len(t, session.Iterations, 3)
	assert.True(t, session.Iterations[0].TriggeredNext)
	assert.True(t, session.Iterations[1].TriggeredNext)
	assert.False(t, session.Iterations[2].TriggeredNext)
	for _, it := range session.Iterations {
		assert.Equal(t, "completed", it.Status)
		assert.NotEmpty(t, it.RunID)
	}
	require.NotNil(t, session.EndTime)

	dir := store.SessionDir(session.SessionID)
	assert.ElementsMatch(t, []string{"task1.yml", "task2.yml"}, listQueue(t, dir, "finished"))
	assert.Empty(t, listQueue(t, dir, "pending"))
	assert.Empty(t, listQueue(t, dir, "running"))
}

func TestSchedulerFailedIterationStopsSession(t *testing.T) {
	now := time.Now()
	stub := &runStub{
		statuses: map[string]state.RunStatus{"task2": state.RunFailed},
		onSeed: func(dir string) {
			enqueueTask(t, dir, "task1.yml", "task1", now.Add(-time.Hour))
			enqueueTask(t, dir, "task2.yml", "task2", now)
		},
	}
	s, store := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionFailed, session.Status)
	assert.Equal(t, 3, session.TotalIterations)
	assert.Equal(t, "failed", session.Iterations[2].Status)

	dir := store.SessionDir(session.SessionID)
	assert.Equal(t, []string{"task1.yml"}, listQueue(t, dir, "finished"))
	assert.Equal(t, []string{"task2.yml"}, listQueue(t, dir, "failed"))
}

func TestSchedulerPartialRunSettlesAsFinished(t *testing.T) {
	stub := &runStub{
		statuses: map[string]state.RunStatus{"task1": state.RunPartial},
		onSeed: func(dir string) {
			enqueueTask(t, dir, "task1.yml", "task1", time.Now())
		},
	}
	s, store := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionCompleted, session.Status)
	dir := store.SessionDir(session.SessionID)
	assert.Equal(t, []string{"task1.yml"}, listQueue(t, dir, "finished"))
}

func TestSchedulerLimitReturnsClaimedFileToPending(t *testing.T) {
	stub := &runStub{onSeed: func(dir string) {
		enqueueTask(t, dir, "task1.yml", "task1", time.Now())
	}}
	s, store := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(1), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionLimitReached, session.Status)
	assert.Equal(t, 1, session.TotalIterations)
	assert.Equal(t, []string{"seed"}, stub.calls)

	// The claimed file goes back so a later session can pick it up.
	dir := store.SessionDir(session.SessionID)
	assert.Equal(t, []string{"task1.yml"}, listQueue(t, dir, "pending"))
	assert.Empty(t, listQueue(t, dir, "running"))
}

func TestSchedulerMaxIterationsOverride(t *testing.T) {
	assert.Equal(t, 100, effectiveMax(seedConfig(0), 0))
	assert.Equal(t, 10, effectiveMax(seedConfig(10), 0))
	assert.Equal(t, 5, effectiveMax(seedConfig(10), 5))
	assert.Equal(t, 10, effectiveMax(seedConfig(10), 50))
}

func TestSchedulerAbortedRunTerminatesSession(t *testing.T) {
	stub := &runStub{statuses: map[string]state.RunStatus{"seed": state.RunAborted}}
	s, _ := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionAborted, session.Status)
	assert.Equal(t, 1, session.TotalIterations)
	assert.Equal(t, "failed", session.Iterations[0].Status)
}

func TestSchedulerRunnerErrorFailsSession(t *testing.T) {
	stub := &runStub{errs: map[string]error{"seed": fmt.Errorf("runtime exploded")}}
	s, _ := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionFailed, session.Status)
	assert.Equal(t, "failed", session.Iterations[0].Status)
}

func TestSchedulerUnreadableQueuedFileFailsSession(t *testing.T) {
	stub := &runStub{onSeed: func(dir string) {
		path := filepath.Join(dir, "pending", "garbage.yml")
		require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o644))
	}}
	s, store := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionFailed, session.Status)
	assert.Equal(t, []string{"seed"}, stub.calls)

	dir := store.SessionDir(session.SessionID)
	assert.Equal(t, []string{"garbage.yml"}, listQueue(t, dir, "failed"))
}

func TestSchedulerSeedFileNeverMoved(t *testing.T) {
	stub := &runStub{statuses: map[string]state.RunStatus{"seed": state.RunFailed}}
	s, store := newTestScheduler(t, stub)

	session, err := s.Run(context.Background(), seedConfig(10), 0)
	require.NoError(t, err)

	assert.Equal(t, state.SessionFailed, session.Status)
	dir := store.SessionDir(session.SessionID)
	assert.Empty(t, listQueue(t, dir, "failed"), "the seed pipeline has no queue file")
	assert.Empty(t, listQueue(t, dir, "finished"))
}
