package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/engine"
	"github.com/agentpipe/agentpipe/internal/github"
	"github.com/agentpipe/agentpipe/internal/gitx"
	"github.com/agentpipe/agentpipe/internal/plan"
	"github.com/agentpipe/agentpipe/internal/runtime"
	"github.com/agentpipe/agentpipe/internal/state"
)

var (
	flagTrigger string
	flagDryRun  bool
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Execute a pipeline once",
	Long: `Run a named pipeline from <repo>/.agent-pipeline/pipelines/ to completion.

The first Ctrl-C aborts the run cooperatively: in-flight stages finish, no new
group starts, and finalize still runs. A second Ctrl-C exits immediately.

Exit codes: 0 on completed, 1 on failed or aborted, 2 on invalid configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		cfg, err := config.LoadFromRepo(a.repoDir, args[0])
		if err != nil {
			return &exitError{code: exitValidation, msg: err.Error()}
		}
		if err := validateConfig(cmd, a.repoDir, cfg); err != nil {
			return err
		}

		rt, err := a.resolveRuntime()
		if err != nil {
			return err
		}
		if err := rt.Validate(); err != nil {
			return fmt.Errorf("runtime environment: %w", err)
		}

		if flagDryRun {
			return printPlan(cmd, cfg)
		}

		var rec engine.Recorder
		if db := a.openAnalytics(); db != nil {
			defer db.Close()
			rec = db
		}

		ps := runPipeline(cmd.Context(), a, cfg, rt, rec, flagTrigger, nil)
		printRunSummary(cmd, ps)
		if ps.Status != state.RunCompleted && ps.Status != state.RunPartial {
			return &exitError{code: exitFailure, msg: fmt.Sprintf("pipeline %s: %s", cfg.Name, ps.Status)}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&flagTrigger, "trigger", "", "trigger kind to record (defaults to the pipeline's)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "print the execution plan without running anything")
}

// validateConfig runs the validator and prints every finding. Errors map to
// exit code 2.
func validateConfig(cmd *cobra.Command, repoDir string, cfg *config.PipelineConfig) error {
	issues := config.NewValidator(repoDir).Validate(cfg)
	for _, issue := range issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", issue.Severity, issue.Field, issue.Message)
		if issue.Suggestion != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "  hint: %s\n", issue.Suggestion)
		}
	}
	if config.HasErrors(issues) {
		return &exitError{code: exitValidation, msg: fmt.Sprintf("pipeline %s: configuration invalid", cfg.Name)}
	}
	return nil
}

// runPipeline executes one run with signal-driven abort. Shared with the loop
// command.
func runPipeline(ctx context.Context, a *app, cfg *config.PipelineConfig, rt runtime.Runtime, db engine.Recorder, trigger string, loopCtx *state.LoopContext) *state.PipelineState {
	abort := engine.NewAbortController()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			a.log.Warn().Msg("interrupt received, aborting after in-flight stages")
			abort.Abort()
		case <-ctx.Done():
		}
	}()

	var pr engine.PRCreator
	if cfg.Git.CreatePR {
		pr = github.NewClient(&github.ExecRunner{}, a.repoDir)
	}

	runner := engine.NewRunner(a.repoDir, cfg, rt, &gitx.ExecGit{}, state.NewStore(a.repoDir), engine.Options{
		TriggerKind: trigger,
		Abort:       abort,
		LoopContext: loopCtx,
		Notifier:    a.buildNotifier(cfg),
		Recorder:    db,
		PRCreator:   pr,
	}, a.log)

	ps, err := runner.Run(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("run initialization failed")
	}
	return ps
}

func printPlan(cmd *cobra.Command, cfg *config.PipelineConfig) error {
	res := plan.Plan(cfg.Agents)
	if res.CycleErr != nil {
		return &exitError{code: exitValidation, msg: res.CycleErr.Error()}
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pipeline %s: %d stages in %d groups (max parallelism %d)\n",
		cfg.Name, res.Graph.StageCount(), len(res.Graph.Groups), res.Graph.MaxParallelism())
	for _, g := range res.Graph.Groups {
		fmt.Fprintf(w, "  group %d:", g.Level)
		for _, s := range g.Stages {
			fmt.Fprintf(w, " %s", s.Name)
			if !s.IsEnabled() {
				fmt.Fprint(w, " (disabled)")
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, ps *state.PipelineState) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nRun %s: %s (%s)\n", ps.RunID, ps.Status, ps.Artifacts.TotalDuration.Round(time.Millisecond))
	for _, ex := range ps.Stages {
		line := fmt.Sprintf("  %-20s %s", ex.StageName, ex.Status)
		if ex.CommitSHA != "" {
			line += "  " + shortSHA(ex.CommitSHA)
		}
		if ex.Error != nil {
			line += "  " + ex.Error.Message
		}
		fmt.Fprintln(w, line)
	}
	if n := len(ps.Artifacts.ChangedFiles); n > 0 {
		fmt.Fprintf(w, "  %d files changed since %s\n", n, shortSHA(ps.Artifacts.InitialCommit))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
