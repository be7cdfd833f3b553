package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/condition"
	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/gitx"
	"github.com/agentpipe/agentpipe/internal/handover"
	"github.com/agentpipe/agentpipe/internal/prompt"
	"github.com/agentpipe/agentpipe/internal/runtime"
	"github.com/agentpipe/agentpipe/internal/state"
)

// ToolActivityUpdater receives streaming tool-activity strings for a stage.
type ToolActivityUpdater func(stageName string, activity string)

// StageOutcome is what executing one stage produces: the frozen execution
// record plus any structured outputs for downstream conditions.
type StageOutcome struct {
	Execution state.StageExecution
	Outputs   condition.Outputs
}

// StageExecutor runs a single agent stage: prompt assembly, condition
// evaluation, timeout, retry, runtime invocation, output persistence, and
// the optional pipeline commit. Stage failures land in the execution record,
// never in an error return.
type StageExecutor struct {
	rt       runtime.Runtime
	repo     *gitx.Repo // the run's working tree (worktree when isolated)
	handover *handover.Manager
	cond     *condition.Context
	cfg      *config.PipelineConfig
	runID    string
	vars     prompt.Vars
	abort    *AbortController
	sleep    func(time.Duration) // seam for retry-delay tests
	log      zerolog.Logger
}

// NewStageExecutor binds an executor to one run.
func NewStageExecutor(
	rt runtime.Runtime,
	repo *gitx.Repo,
	hm *handover.Manager,
	cond *condition.Context,
	cfg *config.PipelineConfig,
	runID string,
	vars prompt.Vars,
	abort *AbortController,
	log zerolog.Logger,
) *StageExecutor {
	return &StageExecutor{
		rt:       rt,
		repo:     repo,
		handover: hm,
		cond:     cond,
		cfg:      cfg,
		runID:    runID,
		vars:     vars,
		abort:    abort,
		sleep:    time.Sleep,
		log:      log.With().Str("component", "stage").Logger(),
	}
}

// ExecuteStage runs one stage to a terminal status.
func (e *StageExecutor) ExecuteStage(ctx context.Context, stage config.AgentStage, update ToolActivityUpdater) StageOutcome {
	start := time.Now()
	ex := state.StageExecution{
		StageName: stage.Name,
		Status:    state.StageRunning,
		StartedAt: start,
	}
	log := e.log.With().Str("stage", stage.Name).Logger()

	finish := func(status state.StageStatus) state.StageExecution {
		ex.Status = status
		ex.EndedAt = time.Now()
		ex.Duration = ex.EndedAt.Sub(start)
		return ex
	}

	// Condition gate: a false condition skips the stage entirely. No
	// runtime invocation, no commit.
	if stage.Condition != "" {
		res, err := condition.Evaluate(stage.Condition, e.cond)
		if err != nil {
			ex.Error = &state.StageError{
				Message:    fmt.Sprintf("condition %q: %v", stage.Condition, err),
				Code:       state.CodeValidation,
				Suggestion: "run: agentpipe validate",
			}
			return StageOutcome{Execution: finish(state.StageFailed)}
		}
		ex.ConditionEvaluated = true
		ex.ConditionResult = res.Value
		for _, w := range res.Warnings {
			log.Warn().Str("condition", stage.Condition).Msg(w)
		}
		if !res.Value {
			log.Info().Str("condition", stage.Condition).Msg("condition false, stage skipped")
			return StageOutcome{Execution: finish(state.StageSkipped)}
		}
	}

	built, err := e.buildPrompt(stage)
	if err != nil {
		ex.Error = &state.StageError{Message: err.Error(), Code: state.CodeInitialization}
		return StageOutcome{Execution: finish(state.StageFailed)}
	}

	maxAttempts := stage.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var res *runtime.Result
	var execErr *state.StageError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if e.abort.Aborted() {
			ex.Error = &state.StageError{Message: "run aborted", Code: state.CodeAborted}
			return StageOutcome{Execution: finish(state.StageFailed)}
		}
		if attempt > 1 {
			log.Info().Int("attempt", attempt).Msg("retrying stage")
			e.sleep(time.Duration(stage.Retry.Delay) * time.Second)
		}

		res, execErr = e.invokeOnce(ctx, stage, built, update)
		if execErr == nil {
			break
		}
		// Only transient runtime failures retry; timeouts and aborts are
		// terminal logical failures.
		if execErr.Code != state.CodeRuntime {
			ex.Error = execErr
			return StageOutcome{Execution: finish(state.StageFailed)}
		}
		log.Warn().Int("attempt", attempt).Str("error", execErr.Message).Msg("stage attempt failed")
	}
	if execErr != nil {
		ex.Error = execErr
		return StageOutcome{Execution: finish(state.StageFailed)}
	}

	ex.TokenUsage = res.TokenUsage

	if err := e.handover.SaveStageOutput(stage.Name, res.TextOutput); err != nil {
		// Losing the output starves later stages of context; that's a
		// stage failure, unlike the merge warnings downstream.
		ex.Error = &state.StageError{Message: fmt.Sprintf("persist output: %v", err)}
		return StageOutcome{Execution: finish(state.StageFailed)}
	}

	if e.cfg.Settings.AutoCommitEnabled() {
		sha, err := e.repo.PipelineCommit(stage.Name, e.runID, "", e.cfg.Settings.CommitPrefix)
		if err != nil {
			ex.Error = &state.StageError{Message: fmt.Sprintf("commit: %v", err)}
			return StageOutcome{Execution: finish(state.StageFailed)}
		}
		// An empty SHA means nothing to commit; that's fine.
		ex.CommitSHA = sha
	}

	outputs := condition.Outputs{}
	for k, v := range res.Outputs {
		outputs[k] = v
	}
	return StageOutcome{Execution: finish(state.StageSuccess), Outputs: outputs}
}

// invokeOnce performs a single runtime invocation under the stage's timeout.
func (e *StageExecutor) invokeOnce(ctx context.Context, stage config.AgentStage, built string, update ToolActivityUpdater) (*runtime.Result, *state.StageError) {
	timeout := stage.TimeoutDuration(e.cfg.Settings.DefaultTimeout)
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Tie the run's abort signal into the runtime's context so subprocess
	// or HTTP cancellation happens promptly.
	go func() {
		select {
		case <-e.abort.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	onActivity := func(activity string) {
		if update != nil {
			update(stage.Name, activity)
		}
	}

	res, err := e.rt.Execute(runCtx, runtime.Request{
		Prompt: built,
		Cwd:    e.repo.Dir(),
		Options: runtime.Options{
			PermissionMode: e.cfg.Settings.PermissionMode,
		},
	}, onActivity)
	if err == nil {
		return res, nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return nil, &state.StageError{
			Message:    fmt.Sprintf("stage timed out after %s", timeout),
			Code:       state.CodeTimeout,
			Suggestion: "raise the stage timeout or split the work",
		}
	case e.abort.Aborted() || errors.Is(err, context.Canceled):
		return nil, &state.StageError{Message: "run aborted", Code: state.CodeAborted}
	default:
		return nil, &state.StageError{Message: err.Error(), Code: state.CodeRuntime}
	}
}

// buildPrompt concatenates handover context, the agent prompt file, and the
// run's template context.
func (e *StageExecutor) buildPrompt(stage config.AgentStage) (string, error) {
	path := stage.Agent
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.repo.Dir(), stage.Agent)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read agent file %q: %w", stage.Agent, err)
	}

	body := prompt.Render(string(data), e.vars)
	return e.handover.BuildContextMessage() + body, nil
}
