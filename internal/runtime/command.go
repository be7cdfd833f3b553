package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/agentpipe/agentpipe/internal/state"
)

// CommandRuntime shells out to an agent CLI. The prompt is written to stdin;
// the agent's final answer comes back on stdout. Lines on stderr prefixed
// with "tool:" stream as tool activity, and a trailing stdout line of JSON
// shaped like {"outputs": {...}, "tokenUsage": {...}} carries structured
// results.
type CommandRuntime struct {
	name string
	argv []string
}

// DefaultClaudeArgv is the stock invocation for the claude CLI.
var DefaultClaudeArgv = []string{"claude", "-p", "--output-format", "text"}

// NewCommandRuntime creates a subprocess runtime. An empty argv falls back to
// DefaultClaudeArgv.
func NewCommandRuntime(name string, argv []string) *CommandRuntime {
	if len(argv) == 0 {
		argv = DefaultClaudeArgv
	}
	return &CommandRuntime{name: name, argv: argv}
}

func (r *CommandRuntime) Name() string {
	return r.name
}

func (r *CommandRuntime) Capabilities() Capabilities {
	return Capabilities{Streaming: true, TokenTracking: true, PermissionModes: true}
}

// Validate checks the agent binary exists and an API key is present.
func (r *CommandRuntime) Validate() error {
	if _, err := exec.LookPath(r.argv[0]); err != nil {
		return fmt.Errorf("agent binary %q not found in PATH", r.argv[0])
	}
	if os.Getenv("ANTHROPIC_API_KEY") == "" && os.Getenv("CLAUDE_API_KEY") == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY or CLAUDE_API_KEY")
	}
	return nil
}

func (r *CommandRuntime) Execute(ctx context.Context, req Request, onActivity ToolActivityFunc) (*Result, error) {
	args := append([]string(nil), r.argv[1:]...)
	if req.Options.PermissionMode != "" {
		args = append(args, "--permission-mode", req.Options.PermissionMode)
	}
	if req.Options.Model != "" {
		args = append(args, "--model", req.Options.Model)
	}

	cmd := exec.CommandContext(ctx, r.argv[0], args...)
	cmd.Dir = req.Cwd
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	// Drain stderr for tool activity while the agent runs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if activity, ok := strings.CutPrefix(line, "tool:"); ok && onActivity != nil {
				onActivity(strings.TrimSpace(activity))
			}
		}
	}()

	waitErr := cmd.Wait()
	<-done

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, fmt.Errorf("agent exited: %w", waitErr)
	}

	text, meta := splitMetadata(stdout.String())
	res := &Result{TextOutput: text}
	if meta != nil {
		res.Outputs = meta.Outputs
		res.TokenUsage = meta.TokenUsage
	}
	return res, nil
}

// metadata is the optional trailing JSON line an agent may emit.
type metadata struct {
	Outputs    map[string]any    `json:"outputs"`
	TokenUsage *state.TokenUsage `json:"tokenUsage"`
}

// splitMetadata strips a trailing JSON metadata line from agent output.
func splitMetadata(out string) (string, *metadata) {
	trimmed := strings.TrimRight(out, "\n")
	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed
	if idx >= 0 {
		last = trimmed[idx+1:]
	}
	if !strings.HasPrefix(strings.TrimSpace(last), "{") {
		return out, nil
	}
	var meta metadata
	if err := json.Unmarshal([]byte(last), &meta); err != nil {
		return out, nil
	}
	if meta.Outputs == nil && meta.TokenUsage == nil {
		return out, nil
	}
	if idx < 0 {
		return "", &meta
	}
	return trimmed[:idx] + "\n", &meta
}
