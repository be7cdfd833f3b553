package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/state"
)

// GroupResult aggregates the outcomes of one execution group, in the stages'
// declaration order regardless of completion order.
type GroupResult struct {
	Outcomes []StageOutcome
	Duration time.Duration
}

// AllSucceeded reports whether every stage ended success or skipped.
func (g *GroupResult) AllSucceeded() bool {
	for _, o := range g.Outcomes {
		if o.Execution.Status == state.StageFailed {
			return false
		}
	}
	return true
}

// Failed returns the executions that ended failed.
func (g *GroupResult) Failed() []state.StageExecution {
	var out []state.StageExecution
	for _, o := range g.Outcomes {
		if o.Execution.Status == state.StageFailed {
			out = append(out, o.Execution)
		}
	}
	return out
}

// Summary renders a short "k/n stages succeeded" line for logs and
// notifications.
func (g *GroupResult) Summary() string {
	ok := 0
	for _, o := range g.Outcomes {
		if o.Execution.Status == state.StageSuccess || o.Execution.Status == state.StageSkipped {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d stages succeeded", ok, len(g.Outcomes))
}

// ExecuteSequentialGroup runs the stages one at a time in order. A failure
// does not short-circuit the group; the orchestrator decides what a failure
// means via the pipeline's failure strategy.
func (e *StageExecutor) ExecuteSequentialGroup(ctx context.Context, stages []config.AgentStage, update ToolActivityUpdater) GroupResult {
	start := time.Now()
	res := GroupResult{Outcomes: make([]StageOutcome, len(stages))}
	for i, st := range stages {
		res.Outcomes[i] = e.ExecuteStage(ctx, st, update)
	}
	res.Duration = time.Since(start)
	return res
}

// ExecuteParallelGroup runs the stages concurrently and waits for all of
// them. Siblings are never cancelled on a peer's failure; every stage runs to
// its own terminal status.
func (e *StageExecutor) ExecuteParallelGroup(ctx context.Context, stages []config.AgentStage, update ToolActivityUpdater) GroupResult {
	start := time.Now()
	res := GroupResult{Outcomes: make([]StageOutcome, len(stages))}

	var g errgroup.Group
	for i, st := range stages {
		g.Go(func() error {
			res.Outcomes[i] = e.ExecuteStage(ctx, st, update)
			return nil
		})
	}
	g.Wait()

	res.Duration = time.Since(start)
	return res
}
