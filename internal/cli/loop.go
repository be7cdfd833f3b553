package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/engine"
	"github.com/agentpipe/agentpipe/internal/loop"
	"github.com/agentpipe/agentpipe/internal/state"
)

var flagMaxIterations int

var loopCmd = &cobra.Command{
	Use:   "loop <pipeline>",
	Short: "Run a pipeline in loop mode, draining its pending queue",
	Long: `Start a loop session seeded with the named pipeline. After the seed run,
pipeline files queued under .agent-pipeline/loops/<sessionId>/pending/ are
drained oldest-first, one runner execution per iteration, until the queue
empties, the iteration limit is reached, or an iteration aborts or fails with
a stop strategy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		seed, err := config.LoadFromRepo(a.repoDir, args[0])
		if err != nil {
			return &exitError{code: exitValidation, msg: err.Error()}
		}
		if !seed.Looping.Enabled {
			return &exitError{code: exitValidation, msg: fmt.Sprintf("pipeline %s: looping is not enabled", seed.Name)}
		}
		if err := validateConfig(cmd, a.repoDir, seed); err != nil {
			return err
		}

		rt, err := a.resolveRuntime()
		if err != nil {
			return err
		}
		if err := rt.Validate(); err != nil {
			return fmt.Errorf("runtime environment: %w", err)
		}

		var rec engine.Recorder
		if db := a.openAnalytics(); db != nil {
			defer db.Close()
			rec = db
		}

		run := func(ctx context.Context, cfg *config.PipelineConfig, loopCtx *state.LoopContext) (*state.PipelineState, error) {
			return runPipeline(ctx, a, cfg, rt, rec, "", loopCtx), nil
		}

		sched := loop.NewScheduler(a.repoDir, state.NewLoopStore(a.repoDir), run, a.log)
		sess, err := sched.Run(cmd.Context(), seed, flagMaxIterations)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "\nLoop session %s: %s after %d iterations\n", sess.SessionID, sess.Status, sess.TotalIterations)
		for _, it := range sess.Iterations {
			fmt.Fprintf(w, "  %3d  %-20s %-10s %s\n", it.IterationNumber, it.PipelineName, it.Status, it.RunID)
		}
		if sess.Status == state.SessionFailed || sess.Status == state.SessionAborted {
			return &exitError{code: exitFailure, msg: fmt.Sprintf("loop session %s: %s", sess.SessionID, sess.Status)}
		}
		return nil
	},
}

func init() {
	loopCmd.Flags().IntVar(&flagMaxIterations, "max-iterations", 0, "cap iterations below the pipeline's configured maximum")
}
