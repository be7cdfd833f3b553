package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/state"
)

// Source types recorded on a run's loop context.
const (
	SourceLibrary = "library"      // the seed pipeline the user invoked
	SourcePending = "loop-pending" // a file drained from pending/
)

// RunFunc executes one pipeline run and returns its terminal state. The
// scheduler treats the runner as a black box behind this seam.
type RunFunc func(ctx context.Context, cfg *config.PipelineConfig, loopCtx *state.LoopContext) (*state.PipelineState, error)

// Scheduler drains a session's pending queue, one runner execution per
// iteration, until the queue empties, the iteration limit is hit, or an
// iteration terminates the session.
type Scheduler struct {
	repoDir string
	store   *state.LoopStore
	run     RunFunc
	log     zerolog.Logger
}

// NewScheduler wires a Scheduler for one repository.
func NewScheduler(repoDir string, store *state.LoopStore, run RunFunc, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		repoDir: repoDir,
		store:   store,
		run:     run,
		log:     log.With().Str("component", "loop").Logger(),
	}
}

const defaultMaxIterations = 100

// effectiveMax resolves the iteration limit: the pipeline's configured
// maximum (default 100), further capped by a CLI override when positive.
func effectiveMax(cfg *config.PipelineConfig, override int) int {
	max := cfg.Looping.MaxIterations
	if max <= 0 {
		max = defaultMaxIterations
	}
	if override > 0 && override < max {
		max = override
	}
	return max
}

// Run executes a full loop session starting from the seed pipeline. The
// session record is always completed with a terminal status before return.
func (s *Scheduler) Run(ctx context.Context, seed *config.PipelineConfig, maxOverride int) (*state.LoopSession, error) {
	sessionID := newSessionID()
	maxIterations := effectiveMax(seed, maxOverride)
	log := s.log.With().Str("session_id", sessionID).Logger()

	if _, err := s.store.StartSession(sessionID, maxIterations); err != nil {
		return nil, err
	}
	if err := s.store.CreateSessionDirectories(sessionID, s.repoDir); err != nil {
		return nil, err
	}
	queue := NewQueue(s.store.SessionDir(sessionID))

	log.Info().Int("max_iterations", maxIterations).Msg("loop session started")

	cfg := seed
	sourceType := SourceLibrary
	sourcePath := "" // "" for the seed; queued files carry their running/ path
	iteration := 1

	for {
		ps := s.runIteration(ctx, log, sessionID, iteration, cfg, sourceType)
		s.settleQueueFile(log, queue, sourcePath, ps)

		if ps != nil && ps.Status == state.RunAborted {
			log.Warn().Msg("iteration aborted, session terminated")
			return s.store.CompleteSession(sessionID, state.SessionAborted)
		}
		failed := ps == nil || ps.Status == state.RunFailed
		if failed && cfg.Settings.EffectiveFailureStrategy() == config.FailStop {
			log.Warn().Msg("iteration failed with stop strategy, session terminated")
			return s.store.CompleteSession(sessionID, state.SessionFailed)
		}

		next, err := queue.NextPending()
		if err != nil {
			log.Warn().Err(err).Msg("pending scan failed")
			return s.store.CompleteSession(sessionID, state.SessionFailed)
		}
		if next == "" {
			log.Info().Int("iterations", iteration).Msg("queue drained, session completed")
			return s.store.CompleteSession(sessionID, state.SessionCompleted)
		}

		running, err := queue.Move(next, "running")
		if err != nil {
			log.Warn().Err(err).Msg("claim pending file failed")
			return s.store.CompleteSession(sessionID, state.SessionFailed)
		}
		nextCfg, err := s.loadPipeline(running)
		if err != nil {
			log.Warn().Err(err).Str("file", filepath.Base(running)).Msg("queued pipeline unreadable")
			if _, mvErr := queue.Move(running, "failed"); mvErr != nil {
				log.Warn().Err(mvErr).Msg("move unreadable file failed")
			}
			return s.store.CompleteSession(sessionID, state.SessionFailed)
		}

		if iteration+1 > maxIterations {
			// Put the claimed file back so a later session can pick it up.
			if _, mvErr := queue.Move(running, "pending"); mvErr != nil {
				log.Warn().Err(mvErr).Msg("return claimed file to pending failed")
			}
			log.Info().Int("max_iterations", maxIterations).Msg("iteration limit reached")
			return s.store.CompleteSession(sessionID, state.SessionLimitReached)
		}

		if _, err := s.store.UpdateIteration(sessionID, iteration, func(it *state.LoopIteration) {
			it.TriggeredNext = true
		}); err != nil {
			log.Warn().Err(err).Msg("mark triggered-next failed")
		}

		cfg = nextCfg
		sourceType = SourcePending
		sourcePath = running
		iteration++
	}
}

// runIteration records, executes, and settles one iteration. A nil return
// means the runner itself errored before producing a state.
func (s *Scheduler) runIteration(ctx context.Context, log zerolog.Logger, sessionID string, iteration int, cfg *config.PipelineConfig, sourceType string) *state.PipelineState {
	loopCtx := &state.LoopContext{
		SessionID:       sessionID,
		IterationNumber: iteration,
		SourceType:      sourceType,
	}
	if _, err := s.store.AppendIteration(sessionID, state.LoopIteration{
		IterationNumber: iteration,
		PipelineName:    cfg.Name,
		Status:          "in-progress",
	}); err != nil {
		log.Warn().Err(err).Msg("append iteration failed")
	}

	start := time.Now()
	log.Info().Int("iteration", iteration).Str("pipeline", cfg.Name).Msg("iteration started")
	ps, err := s.run(ctx, cfg, loopCtx)
	duration := time.Since(start)

	status := "completed"
	runID := ""
	if err != nil || ps == nil || ps.Status == state.RunFailed || ps.Status == state.RunAborted {
		status = "failed"
	}
	if ps != nil {
		runID = ps.RunID
	}
	if err != nil {
		log.Warn().Err(err).Int("iteration", iteration).Msg("iteration errored")
	}

	if _, uerr := s.store.UpdateIteration(sessionID, iteration, func(it *state.LoopIteration) {
		it.Status = status
		it.RunID = runID
		it.Duration = duration
	}); uerr != nil {
		log.Warn().Err(uerr).Msg("update iteration failed")
	}

	if ps != nil && ps.Artifacts.WorktreePath != "" {
		s.syncWorktreeLoops(log, ps.Artifacts.WorktreePath, sessionID)
	}
	return ps
}

// settleQueueFile moves a drained file to its terminal directory. The seed
// pipeline has no queue file and is never moved.
func (s *Scheduler) settleQueueFile(log zerolog.Logger, queue *Queue, sourcePath string, ps *state.PipelineState) {
	if sourcePath == "" {
		return
	}
	dest := "failed"
	if ps != nil && (ps.Status == state.RunCompleted || ps.Status == state.RunPartial) {
		dest = "finished"
	}
	if _, err := queue.Move(sourcePath, dest); err != nil {
		log.Warn().Err(err).Str("file", filepath.Base(sourcePath)).Msg("settle queue file failed")
	}
}

// syncWorktreeLoops copies loop directories an agent populated inside the
// worktree back to the main repository. Failure is a warning; the queue in
// the worktree is advisory.
func (s *Scheduler) syncWorktreeLoops(log zerolog.Logger, worktreePath, sessionID string) {
	src := filepath.Join(worktreePath, state.DirName, "loops", sessionID)
	if _, err := os.Stat(src); err != nil {
		return
	}
	dst := s.store.SessionDir(sessionID)
	if err := copyTree(src, dst); err != nil {
		log.Warn().Err(err).Msg("sync worktree loop directories failed")
	}
}

func (s *Scheduler) loadPipeline(path string) (*config.PipelineConfig, error) {
	return config.Load(path)
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return fmt.Sprintf("loop-%s", id.String())
}
