package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/condition"
	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/github"
	"github.com/agentpipe/agentpipe/internal/gitx"
	"github.com/agentpipe/agentpipe/internal/handover"
	"github.com/agentpipe/agentpipe/internal/notify"
	"github.com/agentpipe/agentpipe/internal/plan"
	"github.com/agentpipe/agentpipe/internal/prompt"
	"github.com/agentpipe/agentpipe/internal/runtime"
	"github.com/agentpipe/agentpipe/internal/state"
)

// PRCreator opens a pull request for a pushed pipeline branch. Satisfied by
// *github.Client.
type PRCreator interface {
	CreatePR(opts github.CreatePROpts) (string, error)
}

// Options tunes a single pipeline run.
type Options struct {
	TriggerKind string // defaults to the pipeline's configured trigger
	StateChange StateChangeFunc
	Abort       *AbortController
	LoopContext *state.LoopContext
	Notifier    *notify.Notifier
	Recorder    Recorder
	PRCreator   PRCreator
}

// Runner executes one pipeline run end to end: branch setup, planning, group
// execution, and finalization.
type Runner struct {
	repoDir string
	cfg     *config.PipelineConfig
	rt      runtime.Runtime
	git     gitx.Runner
	store   *state.Store
	opts    Options
	log     zerolog.Logger
}

// NewRunner wires a Runner for one pipeline in one repository.
func NewRunner(repoDir string, cfg *config.PipelineConfig, rt runtime.Runtime, git gitx.Runner, store *state.Store, opts Options, log zerolog.Logger) *Runner {
	if opts.Abort == nil {
		opts.Abort = NewAbortController()
	}
	return &Runner{
		repoDir: repoDir,
		cfg:     cfg,
		rt:      rt,
		git:     git,
		store:   store,
		opts:    opts,
		log:     log.With().Str("component", "runner").Str("pipeline", cfg.Name).Logger(),
	}
}

// NewRunID returns a time-sortable unique run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run executes the pipeline to a terminal state. The returned state is always
// non-nil once initialization has produced a run record; the error reports
// setup problems that prevented any stage from running.
func (r *Runner) Run(ctx context.Context) (*state.PipelineState, error) {
	runID := NewRunID()
	log := r.log.With().Str("run_id", runID).Logger()
	start := time.Now()

	repo := gitx.NewRepo(r.git, r.repoDir)
	initialCommit := repo.CurrentCommit()

	triggerKind := r.opts.TriggerKind
	if triggerKind == "" {
		triggerKind = r.cfg.Trigger
	}

	ps := &state.PipelineState{
		RunID:        runID,
		PipelineName: r.cfg.Name,
		Trigger: state.Trigger{
			Kind:          triggerKind,
			InitialCommit: initialCommit,
			StartedAt:     start,
		},
		Status:      state.RunRunning,
		LoopContext: r.opts.LoopContext,
		Artifacts:   state.Artifacts{InitialCommit: initialCommit},
	}

	emit := func() {
		if err := r.store.SaveState(ps); err != nil {
			log.Warn().Err(err).Msg("persist state failed")
		}
		if r.opts.StateChange != nil {
			r.opts.StateChange(ps.Clone())
		}
	}

	failInit := func(err error) (*state.PipelineState, error) {
		// Setup failures get a synthetic stage so status output has a
		// concrete place to point at.
		ps.Stages = append(ps.Stages, state.StageExecution{
			StageName: "initialize",
			Status:    state.StageFailed,
			StartedAt: start,
			EndedAt:   time.Now(),
			Duration:  time.Since(start),
			Error: &state.StageError{
				Message: err.Error(),
				Code:    state.CodeInitialization,
			},
		})
		ps.Status = state.RunFailed
		ps.Artifacts.TotalDuration = time.Since(start)
		emit()
		return ps, err
	}

	planned := plan.Plan(r.cfg.Agents)
	for _, w := range planned.Warnings {
		log.Warn().Msg(w)
	}
	if planned.CycleErr != nil {
		return failInit(planned.CycleErr)
	}

	branches := NewBranchManager(repo, log)
	setup, err := branches.SetupPipelineBranch(r.cfg.Git, r.cfg.Name, runID)
	if err != nil {
		return failInit(fmt.Errorf("branch setup: %w", err))
	}
	defer branches.Teardown(setup, r.cfg.Git)
	ps.Artifacts.WorktreePath = setup.WorktreePath

	// Stages run in the worktree when isolated, in place otherwise. The
	// handover directory stays in the main repository so loop iterations
	// and the operator can find it after teardown.
	workRepo := repo
	if setup.WorktreePath != "" {
		workRepo = repo.WithDir(setup.WorktreePath)
	}

	hm, err := handover.NewManager(r.repoDir, runID, r.cfg.Settings.ContextReduction, log)
	if err != nil {
		return failInit(fmt.Errorf("handover setup: %w", err))
	}
	ps.Artifacts.HandoverDir = hm.Dir()
	emit()

	r.notifyRun(ctx, log, notify.EventPipelineStarted, ps)

	vars := promptVars(r.cfg.Name, runID, triggerKind, start, r.cfg.Git.BaseBranch, setup.Branch, initialCommit)
	condCtx := condition.NewContext()
	exec := NewStageExecutor(r.rt, workRepo, hm, condCtx, r.cfg, runID, vars, r.opts.Abort, log)
	orch := NewGroupOrchestrator(exec, ps, r.store, condCtx, hm, r.cfg, r.opts.Notifier, r.opts.Recorder, r.opts.StateChange, log)

	log.Info().Int("groups", len(planned.Graph.Groups)).Int("stages", planned.Graph.StageCount()).Msg("pipeline started")

	stopped := false
	for _, group := range planned.Graph.Groups {
		if r.opts.Abort.Aborted() {
			ps.Status = state.RunAborted
			break
		}
		if !orch.RunGroup(ctx, group.Stages) {
			stopped = true
			break
		}
	}

	r.finalize(ctx, log, ps, workRepo, setup, start, stopped)
	return ps, nil
}

// finalize settles the run status, collects artifacts, and fires the
// terminal notification. Push and PR problems are warnings; the agents'
// commits are already on the branch.
func (r *Runner) finalize(ctx context.Context, log zerolog.Logger, ps *state.PipelineState, workRepo *gitx.Repo, setup *BranchSetup, start time.Time, stopped bool) {
	if r.opts.Abort.Aborted() {
		ps.Status = state.RunAborted
	} else if stopped {
		ps.Status = state.RunFailed
	} else if ps.Status == state.RunRunning {
		ps.Status = state.RunCompleted
	}

	ps.Artifacts.FinalCommit = workRepo.CurrentCommit()
	ps.Artifacts.TotalDuration = time.Since(start)
	if files, err := workRepo.ChangedFiles(ps.Artifacts.InitialCommit); err != nil {
		log.Warn().Err(err).Msg("changed-files listing failed")
	} else {
		ps.Artifacts.ChangedFiles = files
	}

	if setup.Branch != "" && ps.Status != state.RunAborted {
		if r.cfg.Git.AutoPush || r.cfg.Git.CreatePR {
			if err := workRepo.Push(setup.Branch); err != nil {
				log.Warn().Err(err).Str("branch", setup.Branch).Msg("push failed")
			} else if r.cfg.Git.CreatePR && r.opts.PRCreator != nil {
				url, err := r.opts.PRCreator.CreatePR(github.CreatePROpts{
					Branch: setup.Branch,
					Base:   r.cfg.Git.BaseBranch,
					Title:  fmt.Sprintf("%s: pipeline run %s", r.cfg.Name, ps.RunID),
					Body:   prBody(ps),
				})
				if err != nil {
					log.Warn().Err(err).Msg("pull request creation failed")
				} else {
					log.Info().Str("url", url).Msg("pull request created")
				}
			}
		}
	}

	if err := r.store.SaveState(ps); err != nil {
		log.Warn().Err(err).Msg("persist state failed")
	}
	if r.opts.StateChange != nil {
		r.opts.StateChange(ps.Clone())
	}

	kind := notify.EventPipelineCompleted
	if ps.Status == state.RunFailed || ps.Status == state.RunAborted {
		kind = notify.EventPipelineFailed
	}
	r.notifyRun(ctx, log, kind, ps)

	log.Info().
		Str("status", string(ps.Status)).
		Dur("duration", ps.Artifacts.TotalDuration).
		Int("changed_files", len(ps.Artifacts.ChangedFiles)).
		Msg("pipeline finished")
}

func (r *Runner) notifyRun(ctx context.Context, log zerolog.Logger, kind string, ps *state.PipelineState) {
	if r.opts.Notifier == nil {
		return
	}
	ev := notify.Event{Kind: kind, Pipeline: r.cfg.Name, State: ps.Clone()}
	for _, chErr := range r.opts.Notifier.Notify(ctx, ev) {
		log.Warn().Str("channel", chErr.Channel).Err(chErr.Err).Msg("notification failed")
	}
}

func prBody(ps *state.PipelineState) string {
	ok, total := 0, 0
	for _, ex := range ps.Stages {
		total++
		if ex.Status == state.StageSuccess || ex.Status == state.StageSkipped {
			ok++
		}
	}
	return fmt.Sprintf("Automated pipeline run %s: %d/%d stages succeeded, %d files changed.",
		ps.RunID, ok, total, len(ps.Artifacts.ChangedFiles))
}

func promptVars(pipeline, runID, trigger string, started time.Time, baseBranch, branch, initialCommit string) prompt.Vars {
	return prompt.Vars{
		"pipelineName":  pipeline,
		"runId":         runID,
		"trigger":       trigger,
		"timestamp":     started.Format(time.RFC3339),
		"baseBranch":    baseBranch,
		"branch":        branch,
		"initialCommit": initialCommit,
	}
}
