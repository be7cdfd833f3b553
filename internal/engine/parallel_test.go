package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/runtime"
	"github.com/agentpipe/agentpipe/internal/state"
)

func TestExecuteSequentialGroupDoesNotShortCircuit(t *testing.T) {
	rt := &fakeRuntime{execute: func(_ context.Context, req runtime.Request, _ runtime.ToolActivityFunc) (*runtime.Result, error) {
		if strings.Contains(req.Prompt, "FIRST") {
			return nil, fmt.Errorf("boom")
		}
		return &runtime.Result{TextOutput: "ok"}, nil
	}}
	env := newStageEnv(t, rt, testConfig())
	env.writeAgent(t, "agents/one.md", "FIRST")
	env.writeAgent(t, "agents/two.md", "SECOND")

	res := env.exec.ExecuteSequentialGroup(context.Background(), []config.AgentStage{
		{Name: "one", Agent: "agents/one.md"},
		{Name: "two", Agent: "agents/two.md"},
	}, nil)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, state.StageFailed, res.Outcomes[0].Execution.Status)
	assert.Equal(t, state.StageSuccess, res.Outcomes[1].Execution.Status)
	assert.Equal(t, 2, rt.callCount(), "a failure must not stop the rest of the group")
	assert.False(t, res.AllSucceeded())
}

func TestExecuteSequentialGroupRunsInOrder(t *testing.T) {
	var order []string
	rt := &fakeRuntime{execute: func(_ context.Context, req runtime.Request, _ runtime.ToolActivityFunc) (*runtime.Result, error) {
		order = append(order, strings.TrimSpace(req.Prompt))
		return &runtime.Result{}, nil
	}}
	env := newStageEnv(t, rt, testConfig())
	env.writeAgent(t, "agents/a.md", "A")
	env.writeAgent(t, "agents/b.md", "B")
	env.writeAgent(t, "agents/c.md", "C")

	env.exec.ExecuteSequentialGroup(context.Background(), []config.AgentStage{
		{Name: "a", Agent: "agents/a.md"},
		{Name: "b", Agent: "agents/b.md"},
		{Name: "c", Agent: "agents/c.md"},
	}, nil)

	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestExecuteParallelGroupKeepsDeclarationOrder(t *testing.T) {
	rt := &fakeRuntime{execute: func(_ context.Context, req runtime.Request, _ runtime.ToolActivityFunc) (*runtime.Result, error) {
		if strings.Contains(req.Prompt, "SLOW") {
			time.Sleep(30 * time.Millisecond)
		}
		return &runtime.Result{TextOutput: "ok"}, nil
	}}
	env := newStageEnv(t, rt, testConfig())
	env.writeAgent(t, "agents/slow.md", "SLOW")
	env.writeAgent(t, "agents/fast.md", "FAST")

	res := env.exec.ExecuteParallelGroup(context.Background(), []config.AgentStage{
		{Name: "slow", Agent: "agents/slow.md"},
		{Name: "fast", Agent: "agents/fast.md"},
	}, nil)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "slow", res.Outcomes[0].Execution.StageName)
	assert.Equal(t, "fast", res.Outcomes[1].Execution.StageName)
	assert.True(t, res.AllSucceeded())
}

func TestExecuteParallelGroupDoesNotCancelSiblings(t *testing.T) {
	rt := &fakeRuntime{execute: func(ctx context.Context, req runtime.Request, _ runtime.ToolActivityFunc) (*runtime.Result, error) {
		if strings.Contains(req.Prompt, "BAD") {
			return nil, fmt.Errorf("boom")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(30 * time.Millisecond):
			return &runtime.Result{TextOutput: "ok"}, nil
		}
	}}
	env := newStageEnv(t, rt, testConfig())
	env.writeAgent(t, "agents/bad.md", "BAD")
	env.writeAgent(t, "agents/good.md", "GOOD")

	res := env.exec.ExecuteParallelGroup(context.Background(), []config.AgentStage{
		{Name: "bad", Agent: "agents/bad.md"},
		{Name: "good", Agent: "agents/good.md"},
	}, nil)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, state.StageFailed, res.Outcomes[0].Execution.Status)
	assert.Equal(t, state.StageSuccess, res.Outcomes[1].Execution.Status,
		"a sibling failure must not cancel the rest of the group")

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].StageName)
}

func TestGroupResultSummary(t *testing.T) {
	res := GroupResult{Outcomes: []StageOutcome{
		{Execution: state.StageExecution{StageName: "a", Status: state.StageSuccess}},
		{Execution: state.StageExecution{StageName: "b", Status: state.StageSkipped}},
		{Execution: state.StageExecution{StageName: "c", Status: state.StageFailed}},
	}}
	assert.Equal(t, "2/3 stages succeeded", res.Summary())
	assert.False(t, res.AllSucceeded())

	res.Outcomes = res.Outcomes[:2]
	assert.True(t, res.AllSucceeded())
}
