// Package handover owns the per-run directory where stage outputs accumulate
// and maintains the merged HANDOVER.md consumed by later stages.
package handover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/state"
)

// HandoverFile is the canonical merged context file within a run directory.
const HandoverFile = "HANDOVER.md"

// Manager owns one run's handover directory.
type Manager struct {
	dir       string
	reduction config.ContextReduction
	log       zerolog.Logger
}

// NewManager creates the handover directory for a run under
// <repo>/.agent-pipeline/runs/<runId>.
func NewManager(repoDir string, runID string, reduction config.ContextReduction, log zerolog.Logger) (*Manager, error) {
	dir := filepath.Join(repoDir, state.DirName, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir handover dir: %w", err)
	}
	return &Manager{dir: dir, reduction: reduction, log: log.With().Str("component", "handover").Logger()}, nil
}

// Dir returns the run's handover directory.
func (m *Manager) Dir() string {
	return m.dir
}

// stagePath is the output file for one stage.
func (m *Manager) stagePath(stage string) string {
	return filepath.Join(m.dir, stage+".md")
}

// SaveStageOutput persists a stage's captured textual output.
func (m *Manager) SaveStageOutput(stage string, output string) error {
	return state.WriteAtomic(m.stagePath(stage), []byte(output))
}

// GetStageOutput reads a stage's captured output, or "" when absent.
func (m *Manager) GetStageOutput(stage string) (string, error) {
	data, err := os.ReadFile(m.stagePath(stage))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// CopyStageToHandover snapshots one stage's output into HANDOVER.md.
// Latest writer wins: each sequential stage replaces the merged context.
func (m *Manager) CopyStageToHandover(stage string) error {
	output, err := m.GetStageOutput(stage)
	if err != nil {
		return fmt.Errorf("read output of %q: %w", stage, err)
	}
	content := fmt.Sprintf("## Stage: %s\n\n%s\n", stage, strings.TrimRight(output, "\n"))
	return state.WriteAtomic(filepath.Join(m.dir, HandoverFile), []byte(content))
}

// MergeParallelOutputs concatenates the outputs of stages that completed in
// one parallel group into HANDOVER.md, with one section per stage in the
// given (declaration) order.
func (m *Manager) MergeParallelOutputs(stages []string) error {
	var b strings.Builder
	for _, stage := range stages {
		output, err := m.GetStageOutput(stage)
		if err != nil {
			return fmt.Errorf("read output of %q: %w", stage, err)
		}
		fmt.Fprintf(&b, "## Stage: %s\n\n%s\n\n", stage, strings.TrimRight(output, "\n"))
	}
	return state.WriteAtomic(filepath.Join(m.dir, HandoverFile), []byte(strings.TrimRight(b.String(), "\n")+"\n"))
}

// GetPreviousStages lists the stages with captured output files, sorted by
// name.
func (m *Manager) GetPreviousStages() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read handover dir: %w", err)
	}
	var stages []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == HandoverFile || !strings.HasSuffix(name, ".md") {
			continue
		}
		stages = append(stages, strings.TrimSuffix(name, ".md"))
	}
	sort.Strings(stages)
	return stages, nil
}

// BuildContextMessage returns a prompt-ready block of the merged handover
// context, or "" when no stage has completed yet. The context-reduction
// policy is applied here so every consumer sees the same truncation.
func (m *Manager) BuildContextMessage() string {
	data, err := os.ReadFile(filepath.Join(m.dir, HandoverFile))
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}
	content = m.reduce(content)
	return "# Context from previous stages\n\n" + content + "\n\n---\n\n"
}

// reduce applies the truncate strategy when the estimated token count passes
// the configured threshold. Tokens are estimated at four characters each.
func (m *Manager) reduce(content string) string {
	if m.reduction.Strategy != "truncate" || m.reduction.MaxTokens <= 0 {
		return content
	}
	threshold := m.reduction.TriggerThreshold
	if threshold <= 0 {
		threshold = m.reduction.MaxTokens
	}
	estimated := len(content) / 4
	if estimated <= threshold {
		return content
	}

	keep := m.reduction.MaxTokens * 4
	if keep >= len(content) {
		return content
	}
	m.log.Warn().
		Int("estimated_tokens", estimated).
		Int("max_tokens", m.reduction.MaxTokens).
		Msg("handover context truncated")
	// Keep the tail: the most recent stage output is the most relevant.
	return "[earlier context truncated]\n\n" + content[len(content)-keep:]
}
