package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/condition"
	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/handover"
	"github.com/agentpipe/agentpipe/internal/notify"
	"github.com/agentpipe/agentpipe/internal/state"
)

// Recorder receives finished stage executions for analytics. Satisfied by
// *analytics.DB.
type Recorder interface {
	RecordStageExecution(runID, pipeline string, ex state.StageExecution) error
}

// StateChangeFunc observes run-state transitions. The argument is a clone;
// callers may retain it.
type StateChangeFunc func(*state.PipelineState)

// GroupOrchestrator runs one execution group at a time against a shared
// PipelineState. It is the single writer of the state; stage goroutines feed
// back through the serialized tool-activity updater only.
type GroupOrchestrator struct {
	exec     *StageExecutor
	ps       *state.PipelineState
	store    *state.Store
	cond     *condition.Context
	handover *handover.Manager
	cfg      *config.PipelineConfig
	notifier *notify.Notifier
	recorder Recorder
	onChange StateChangeFunc
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewGroupOrchestrator wires an orchestrator for one run.
func NewGroupOrchestrator(
	exec *StageExecutor,
	ps *state.PipelineState,
	store *state.Store,
	cond *condition.Context,
	hm *handover.Manager,
	cfg *config.PipelineConfig,
	notifier *notify.Notifier,
	recorder Recorder,
	onChange StateChangeFunc,
	log zerolog.Logger,
) *GroupOrchestrator {
	return &GroupOrchestrator{
		exec:     exec,
		ps:       ps,
		store:    store,
		cond:     cond,
		handover: hm,
		cfg:      cfg,
		notifier: notifier,
		recorder: recorder,
		onChange: onChange,
		log:      log.With().Str("component", "group").Logger(),
	}
}

// emit persists the current state and notifies the observer with a snapshot.
func (o *GroupOrchestrator) emit() {
	if err := o.store.SaveState(o.ps); err != nil {
		o.log.Warn().Err(err).Msg("persist state failed")
	}
	if o.onChange != nil {
		o.onChange(o.ps.Clone())
	}
}

const toolActivityKeep = 3

// RunGroup executes one group of independent stages and folds the results
// into the run state. It returns false when the pipeline must stop here.
func (o *GroupOrchestrator) RunGroup(ctx context.Context, stages []config.AgentStage) bool {
	// Records go in before dispatch, in declaration order: disabled stages
	// as skipped (one observer callback each), enabled stages as running so
	// activity updates have a place to land.
	var enabled []config.AgentStage
	for _, st := range stages {
		if !st.IsEnabled() {
			o.log.Info().Str("stage", st.Name).Msg("stage disabled, skipped")
			o.appendExecution(skippedExecution(st.Name))
			o.emit()
			continue
		}
		enabled = append(enabled, st)
		o.appendExecution(state.StageExecution{
			StageName: st.Name,
			Status:    state.StageRunning,
		})
	}
	if len(enabled) == 0 {
		return true
	}
	o.emit()

	update := func(stageName, activity string) {
		o.mu.Lock()
		defer o.mu.Unlock()
		ex := o.ps.FindStage(stageName)
		if ex == nil {
			return
		}
		ex.ToolActivity = append(ex.ToolActivity, activity)
		if n := len(ex.ToolActivity); n > toolActivityKeep {
			ex.ToolActivity = ex.ToolActivity[n-toolActivityKeep:]
		}
		if o.onChange != nil {
			o.onChange(o.ps.Clone())
		}
	}

	mode := o.cfg.Settings.EffectiveExecutionMode()
	parallel := mode == config.ModeParallel && len(enabled) >= 2
	var res GroupResult
	if parallel {
		res = o.exec.ExecuteParallelGroup(ctx, enabled, update)
	} else {
		res = o.exec.ExecuteSequentialGroup(ctx, enabled, update)
	}

	// Fold terminal executions back into the run state and publish each
	// success's outputs to the condition context. Outputs are applied
	// serially here, never from stage goroutines.
	o.mu.Lock()
	var succeeded []string
	for _, out := range res.Outcomes {
		ex := o.ps.FindStage(out.Execution.StageName)
		if ex != nil {
			activity := ex.ToolActivity
			*ex = out.Execution
			ex.ToolActivity = activity
		} else {
			o.ps.Stages = append(o.ps.Stages, out.Execution)
		}
		if out.Execution.Status == state.StageSuccess {
			succeeded = append(succeeded, out.Execution.StageName)
			o.cond.SetOutputs(out.Execution.StageName, out.Outputs)
		}
	}
	o.mu.Unlock()

	// Handover follows the execution path, not the success count: parallel
	// successes merge into one section per stage, sequential successes each
	// replace the handover so the latest writer wins. Errors here starve
	// later context but never fail the group.
	if parallel {
		if len(succeeded) > 0 {
			if err := o.handover.MergeParallelOutputs(succeeded); err != nil {
				o.log.Warn().Err(err).Msg("handover merge failed")
			}
		}
	} else {
		for _, name := range succeeded {
			if err := o.handover.CopyStageToHandover(name); err != nil {
				o.log.Warn().Err(err).Str("stage", name).Msg("handover update failed")
			}
		}
	}

	o.emit()
	o.record(res)
	o.notifyGroup(ctx, res)

	o.log.Info().Str("mode", mode).Dur("duration", res.Duration).Msg(res.Summary())

	return o.resolveFailures(res, enabled)
}

func (o *GroupOrchestrator) appendExecution(ex state.StageExecution) {
	o.mu.Lock()
	o.ps.Stages = append(o.ps.Stages, ex)
	o.mu.Unlock()
}

func skippedExecution(name string) state.StageExecution {
	return state.StageExecution{StageName: name, Status: state.StageSkipped}
}

func (o *GroupOrchestrator) record(res GroupResult) {
	if o.recorder == nil {
		return
	}
	for _, out := range res.Outcomes {
		if err := o.recorder.RecordStageExecution(o.ps.RunID, o.ps.PipelineName, out.Execution); err != nil {
			o.log.Warn().Err(err).Str("stage", out.Execution.StageName).Msg("analytics record failed")
		}
	}
}

func (o *GroupOrchestrator) notifyGroup(ctx context.Context, res GroupResult) {
	if o.notifier == nil {
		return
	}
	execs := make([]state.StageExecution, 0, len(res.Outcomes))
	for _, out := range res.Outcomes {
		execs = append(execs, out.Execution)
	}
	ev := notify.Event{
		Kind:       notify.EventGroupCompleted,
		Pipeline:   o.ps.PipelineName,
		State:      o.ps.Clone(),
		Executions: execs,
	}
	for _, chErr := range o.notifier.Notify(ctx, ev) {
		o.log.Warn().Str("channel", chErr.Channel).Err(chErr.Err).Msg("notification failed")
	}
}

// resolveFailures applies failure strategies. Per-stage onFail overrides the
// pipeline strategy; when several failed stages disagree, the most
// restrictive one wins (stop over warn over continue). Surviving failures
// demote a running pipeline to partial; a later group can still fail it, but
// nothing promotes it back.
func (o *GroupOrchestrator) resolveFailures(res GroupResult, stages []config.AgentStage) bool {
	failed := res.Failed()
	if len(failed) == 0 {
		return true
	}

	byName := make(map[string]config.AgentStage, len(stages))
	for _, st := range stages {
		byName[st.Name] = st
	}

	strategy := config.FailContinue
	for _, ex := range failed {
		s := byName[ex.StageName].OnFail
		if s == "" {
			s = o.cfg.Settings.EffectiveFailureStrategy()
		}
		switch s {
		case config.FailStop, config.FailContinue, config.FailWarn:
		default:
			// Unknown strategies fail closed.
			o.log.Warn().Str("stage", ex.StageName).Str("strategy", s).Msg("unknown failure strategy, treating as stop")
			s = config.FailStop
		}
		if restrictiveness(s) > restrictiveness(strategy) {
			strategy = s
		}
	}

	for _, ex := range failed {
		evt := o.log.Error()
		if strategy == config.FailWarn {
			evt = o.log.Warn()
		}
		msg := ""
		if ex.Error != nil {
			msg = ex.Error.Message
		}
		evt.Str("stage", ex.StageName).Str("error", msg).Msg("stage failed")
	}

	if strategy == config.FailStop {
		return false
	}

	o.mu.Lock()
	if o.ps.Status == state.RunRunning {
		o.ps.Status = state.RunPartial
	}
	o.mu.Unlock()
	o.emit()
	return true
}

func restrictiveness(strategy string) int {
	switch strategy {
	case config.FailStop:
		return 2
	case config.FailWarn:
		return 1
	default:
		return 0
	}
}
