package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agentpipe/agentpipe/internal/condition"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Field      string   `json:"field"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// HasErrors reports whether any issue is an error (not just a warning).
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

var stageNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// timeoutWarnSeconds is the threshold past which a stage timeout draws a
// warning.
const timeoutWarnSeconds = 900

// Validator runs the priority-ordered rule set over a pipeline config.
// The exec/env seams are fields so tests can stub the environment.
type Validator struct {
	RepoDir   string
	LookupEnv func(string) (string, bool)
	LookPath  func(string) (string, error)
	GhAuth    func() error // non-nil error means gh is not authenticated
}

// NewValidator creates a Validator bound to a repository with real
// environment probes.
func NewValidator(repoDir string) *Validator {
	return &Validator{
		RepoDir:   repoDir,
		LookupEnv: os.LookupEnv,
		LookPath:  exec.LookPath,
		GhAuth: func() error {
			return exec.Command("gh", "auth", "status").Run()
		},
	}
}

// Validate returns every issue found in the config, errors and warnings
// alike, so the caller can surface them all at once.
func (v *Validator) Validate(cfg *PipelineConfig) []Issue {
	var issues []Issue

	issues = append(issues, v.checkRequired(cfg)...)
	issues = append(issues, v.checkStages(cfg)...)
	issues = append(issues, v.checkCycles(cfg)...)
	issues = append(issues, v.checkSettings(cfg)...)
	issues = append(issues, v.checkConditions(cfg)...)
	issues = append(issues, v.checkNotifications(cfg)...)
	issues = append(issues, v.checkEnvironment(cfg)...)

	return issues
}

func (v *Validator) checkRequired(cfg *PipelineConfig) []Issue {
	var issues []Issue
	if cfg.Name == "" {
		issues = append(issues, Issue{Field: "name", Severity: SeverityError, Message: "is required"})
	}
	if cfg.Trigger != "" && !contains(TriggerKinds, cfg.Trigger) {
		issues = append(issues, Issue{
			Field:      "trigger",
			Severity:   SeverityError,
			Message:    fmt.Sprintf("unknown trigger %q", cfg.Trigger),
			Suggestion: "one of: " + strings.Join(TriggerKinds, ", "),
		})
	}
	if len(cfg.Agents) == 0 {
		issues = append(issues, Issue{Field: "agents", Severity: SeverityError, Message: "at least one agent stage is required"})
	}
	return issues
}

func (v *Validator) checkStages(cfg *PipelineConfig) []Issue {
	var issues []Issue
	names := make(map[string]bool)

	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)

		if a.Name == "" {
			issues = append(issues, Issue{Field: prefix + ".name", Severity: SeverityError, Message: "is required"})
			continue
		}
		if !stageNameRe.MatchString(a.Name) {
			issues = append(issues, Issue{
				Field:      prefix + ".name",
				Severity:   SeverityError,
				Message:    fmt.Sprintf("invalid stage name %q", a.Name),
				Suggestion: "names start with a letter and use letters, digits, '_' or '-'",
			})
		}
		if names[a.Name] {
			issues = append(issues, Issue{Field: prefix + ".name", Severity: SeverityError, Message: fmt.Sprintf("duplicate stage name %q", a.Name)})
		}
		names[a.Name] = true

		if a.Agent == "" {
			issues = append(issues, Issue{Field: prefix + ".agent", Severity: SeverityError, Message: "agent prompt file is required"})
		} else if v.RepoDir != "" {
			path := filepath.Join(v.RepoDir, a.Agent)
			if _, err := os.Stat(path); err != nil {
				issues = append(issues, Issue{
					Field:      prefix + ".agent",
					Severity:   SeverityError,
					Message:    fmt.Sprintf("agent file %q not found", a.Agent),
					Suggestion: fmt.Sprintf("expected at %s", path),
				})
			}
		}

		if a.OnFail != "" && a.OnFail != FailStop && a.OnFail != FailContinue && a.OnFail != FailWarn {
			issues = append(issues, Issue{
				Field:      prefix + ".onFail",
				Severity:   SeverityError,
				Message:    fmt.Sprintf("unknown onFail %q", a.OnFail),
				Suggestion: "one of: stop, continue, warn",
			})
		}

		if a.Timeout < 0 {
			issues = append(issues, Issue{Field: prefix + ".timeout", Severity: SeverityError, Message: "must be > 0"})
		} else if a.Timeout > timeoutWarnSeconds {
			issues = append(issues, Issue{
				Field:    prefix + ".timeout",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("timeout of %ds is unusually long", a.Timeout),
			})
		}

		if a.Retry.MaxAttempts > 10 {
			issues = append(issues, Issue{Field: prefix + ".retry.maxAttempts", Severity: SeverityError, Message: "must be <= 10"})
		}
		if a.Retry.Delay > 300 {
			issues = append(issues, Issue{Field: prefix + ".retry.delay", Severity: SeverityError, Message: "must be <= 300 seconds"})
		}
	}

	// dependsOn references, plus the enabled/disabled cross-check.
	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		for _, dep := range a.DependsOn {
			if !names[dep] {
				issues = append(issues, Issue{
					Field:    prefix + ".dependsOn",
					Severity: SeverityError,
					Message:  fmt.Sprintf("references unknown stage %q", dep),
				})
				continue
			}
			if a.IsEnabled() {
				if target := findStage(cfg, dep); target != nil && !target.IsEnabled() {
					issues = append(issues, Issue{
						Field:      prefix + ".dependsOn",
						Severity:   SeverityWarning,
						Message:    fmt.Sprintf("depends on disabled stage %q", dep),
						Suggestion: "the dependent still runs, but conditions reading its outputs evaluate to false",
					})
				}
			}
		}
	}

	return issues
}

// checkCycles walks dependsOn edges looking for a cycle and names the
// participating stages.
func (v *Validator) checkCycles(cfg *PipelineConfig) []Issue {
	adj := make(map[string][]string)
	for _, a := range cfg.Agents {
		adj[a.Name] = a.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cycle []string

	var visit func(name string, stack []string) bool
	visit = func(name string, stack []string) bool {
		color[name] = gray
		for _, dep := range adj[name] {
			if _, known := adj[dep]; !known {
				continue // unknown reference reported elsewhere
			}
			switch color[dep] {
			case gray:
				cycle = append(stack, name, dep)
				return true
			case white:
				if visit(dep, append(stack, name)) {
					return true
				}
			}
		}
		color[name] = black
		return false
	}

	for _, a := range cfg.Agents {
		if color[a.Name] == white {
			if visit(a.Name, nil) {
				return []Issue{{
					Field:    "agents",
					Severity: SeverityError,
					Message:  fmt.Sprintf("dependency cycle involving: %s", strings.Join(dedupe(cycle), " -> ")),
				}}
			}
		}
	}
	return nil
}

func (v *Validator) checkSettings(cfg *PipelineConfig) []Issue {
	var issues []Issue
	s := cfg.Settings

	if s.ExecutionMode != "" && s.ExecutionMode != ModeParallel && s.ExecutionMode != ModeSequential {
		issues = append(issues, Issue{Field: "settings.executionMode", Severity: SeverityError, Message: fmt.Sprintf("unknown mode %q", s.ExecutionMode)})
	}
	if s.FailureStrategy != "" && s.FailureStrategy != FailStop && s.FailureStrategy != FailContinue && s.FailureStrategy != FailWarn {
		issues = append(issues, Issue{Field: "settings.failureStrategy", Severity: SeverityError, Message: fmt.Sprintf("unknown strategy %q", s.FailureStrategy)})
	}
	if s.CommitPrefix != "" && !strings.Contains(s.CommitPrefix, "{{stage}}") {
		issues = append(issues, Issue{
			Field:      "settings.commitPrefix",
			Severity:   SeverityWarning,
			Message:    "commit prefix does not contain {{stage}}",
			Suggestion: "include {{stage}} so commits identify their stage",
		})
	}

	cr := s.ContextReduction
	if cr.Strategy != "" && cr.Strategy != "truncate" && cr.Strategy != "summarize" && cr.Strategy != "none" {
		issues = append(issues, Issue{Field: "settings.contextReduction.strategy", Severity: SeverityError, Message: fmt.Sprintf("unknown strategy %q", cr.Strategy)})
	}
	if cr.MaxTokens < 0 {
		issues = append(issues, Issue{Field: "settings.contextReduction.maxTokens", Severity: SeverityError, Message: "must be >= 0"})
	}
	if cr.TriggerThreshold < 0 {
		issues = append(issues, Issue{Field: "settings.contextReduction.triggerThreshold", Severity: SeverityError, Message: "must be >= 0"})
	}
	if cr.MaxTokens > 0 && cr.TriggerThreshold > cr.MaxTokens {
		issues = append(issues, Issue{Field: "settings.contextReduction.triggerThreshold", Severity: SeverityError, Message: "must be <= maxTokens"})
	}

	switch s.PermissionMode {
	case "", "default", "acceptEdits":
	case "bypassPermissions":
		issues = append(issues, Issue{
			Field:      "settings.permissionMode",
			Severity:   SeverityWarning,
			Message:    "bypassPermissions lets agents act without confirmation",
			Suggestion: "prefer acceptEdits unless the repo is fully isolated",
		})
	default:
		issues = append(issues, Issue{Field: "settings.permissionMode", Severity: SeverityError, Message: fmt.Sprintf("unknown mode %q", s.PermissionMode)})
	}

	if cfg.Git.BranchStrategy != "" {
		switch cfg.Git.BranchStrategy {
		case BranchReusable, BranchEphemeral, BranchNone:
		default:
			issues = append(issues, Issue{Field: "git.branchStrategy", Severity: SeverityError, Message: fmt.Sprintf("unknown strategy %q", cfg.Git.BranchStrategy)})
		}
	}

	return issues
}

func (v *Validator) checkConditions(cfg *PipelineConfig) []Issue {
	var issues []Issue
	names := make(map[string]bool)
	for _, a := range cfg.Agents {
		names[a.Name] = true
	}

	for i, a := range cfg.Agents {
		if a.Condition == "" {
			continue
		}
		prefix := fmt.Sprintf("agents[%d].condition", i)

		if err := condition.ValidateExpression(a.Condition); err != nil {
			issues = append(issues, Issue{Field: prefix, Severity: SeverityError, Message: err.Error()})
			continue
		}
		for _, ref := range condition.ExtractStageReferences(a.Condition) {
			if !names[ref] {
				issues = append(issues, Issue{
					Field:    prefix,
					Severity: SeverityError,
					Message:  fmt.Sprintf("references unknown stage %q", ref),
				})
			}
		}
	}
	return issues
}

func (v *Validator) checkNotifications(cfg *PipelineConfig) []Issue {
	var issues []Issue
	if slack := cfg.Notifications.Slack; slack != nil {
		if !strings.HasPrefix(slack.WebhookURL, "https://hooks.slack.com/") {
			issues = append(issues, Issue{
				Field:      "notifications.slack.webhookUrl",
				Severity:   SeverityError,
				Message:    "must be a Slack incoming webhook URL",
				Suggestion: "starts with https://hooks.slack.com/",
			})
		}
	}
	return issues
}

// checkEnvironment validates runtime preconditions, but only for features
// the config actually enables.
func (v *Validator) checkEnvironment(cfg *PipelineConfig) []Issue {
	var issues []Issue

	_, hasAnthropic := v.LookupEnv("ANTHROPIC_API_KEY")
	_, hasClaude := v.LookupEnv("CLAUDE_API_KEY")
	if !hasAnthropic && !hasClaude {
		issues = append(issues, Issue{
			Field:      "environment",
			Severity:   SeverityError,
			Message:    "no API key found",
			Suggestion: "set ANTHROPIC_API_KEY or CLAUDE_API_KEY",
		})
	}

	if cfg.Git.CreatePR {
		if _, err := v.LookPath("gh"); err != nil {
			issues = append(issues, Issue{
				Field:      "git.createPR",
				Severity:   SeverityError,
				Message:    "gh CLI not found but PR auto-create is enabled",
				Suggestion: "install gh or disable createPR",
			})
		} else if err := v.GhAuth(); err != nil {
			issues = append(issues, Issue{
				Field:      "git.createPR",
				Severity:   SeverityError,
				Message:    "gh CLI is not authenticated",
				Suggestion: "run: gh auth login",
			})
		}
	}

	return issues
}

func findStage(cfg *PipelineConfig, name string) *AgentStage {
	for i := range cfg.Agents {
		if cfg.Agents[i].Name == name {
			return &cfg.Agents[i]
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
