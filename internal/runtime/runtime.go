// Package runtime defines the contract between the engine and an agent
// runtime: the process that actually talks to an LLM. The engine treats
// every runtime as a black box behind this interface.
package runtime

import (
	"context"

	"github.com/agentpipe/agentpipe/internal/state"
)

// Request is one agent invocation.
type Request struct {
	Prompt  string
	Cwd     string // working tree the agent may mutate
	Options Options
}

// Options are per-invocation knobs the runtime may or may not support.
type Options struct {
	PermissionMode string
	Model          string
}

// Result is what a runtime returns on success.
type Result struct {
	TextOutput string
	// Outputs are structured key/value results the agent reported, used by
	// downstream condition expressions. Nil when the agent reported none.
	Outputs map[string]any
	// TokenUsage is set when the runtime supports token tracking.
	TokenUsage *state.TokenUsage
}

// ToolActivityFunc receives short strings describing what tool the agent is
// currently using. Called from the runtime's streaming goroutine.
type ToolActivityFunc func(activity string)

// Capabilities declares optional feature support.
type Capabilities struct {
	Streaming       bool
	TokenTracking   bool
	PermissionModes bool
}

// Runtime executes agent prompts.
type Runtime interface {
	// Name identifies the runtime in the registry.
	Name() string
	// Execute runs one prompt to completion. Cancellation via ctx must be
	// plumbed down to the underlying subprocess or HTTP call.
	Execute(ctx context.Context, req Request, onActivity ToolActivityFunc) (*Result, error)
	// Capabilities declares what the runtime supports.
	Capabilities() Capabilities
	// Validate pre-flights the runtime's environment.
	Validate() error
}
