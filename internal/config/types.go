// Package config defines, loads, and validates pipeline YAML.
package config

import "time"

// Trigger kinds accepted by a pipeline.
var TriggerKinds = []string{"manual", "pre-commit", "post-commit", "pre-push", "post-merge"}

// Failure strategies. Stop halts the pipeline; continue and warn let it run
// on (warn is continue with louder reporting).
const (
	FailStop     = "stop"
	FailContinue = "continue"
	FailWarn     = "warn"
)

// Execution modes for a group of independent stages.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// Branch strategies.
const (
	BranchReusable  = "reusable"
	BranchEphemeral = "ephemeral"
	BranchNone      = "none"
)

// PipelineConfig is the top-level structure parsed from a pipeline YAML file.
type PipelineConfig struct {
	Name          string        `yaml:"name"`
	Trigger       string        `yaml:"trigger"`
	Agents        []AgentStage  `yaml:"agents"`
	Settings      Settings      `yaml:"settings"`
	Git           GitPolicy     `yaml:"git"`
	Notifications Notifications `yaml:"notifications"`
	Looping       Looping       `yaml:"looping"`
}

// AgentStage describes one agent invocation within a pipeline.
type AgentStage struct {
	Name      string   `yaml:"name"`
	Agent     string   `yaml:"agent"` // path to the prompt file, relative to the repo
	DependsOn []string `yaml:"dependsOn"`
	Enabled   *bool    `yaml:"enabled"` // nil counts as enabled
	Condition string   `yaml:"condition"`
	OnFail    string   `yaml:"onFail"` // stop, continue, warn
	Timeout   int      `yaml:"timeout"` // seconds; 0 inherits the global default
	Retry     Retry    `yaml:"retry"`
}

// IsEnabled reports whether the stage should be dispatched.
func (a *AgentStage) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// TimeoutDuration returns the stage timeout, falling back to the global
// default when unset.
func (a *AgentStage) TimeoutDuration(defaultSeconds int) time.Duration {
	secs := a.Timeout
	if secs <= 0 {
		secs = defaultSeconds
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Retry configures retry of transient runtime failures.
type Retry struct {
	MaxAttempts int `yaml:"maxAttempts"`
	Delay       int `yaml:"delay"` // seconds between attempts
}

// Settings holds pipeline-wide execution options.
type Settings struct {
	ExecutionMode    string           `yaml:"executionMode"`   // parallel (default) or sequential
	FailureStrategy  string           `yaml:"failureStrategy"` // stop (default), continue, warn
	AutoCommit       *bool            `yaml:"autoCommit"`      // nil counts as enabled
	CommitPrefix     string           `yaml:"commitPrefix"`
	DefaultTimeout   int              `yaml:"defaultTimeout"` // seconds per stage
	PermissionMode   string           `yaml:"permissionMode"` // default, acceptEdits, bypassPermissions
	ContextReduction ContextReduction `yaml:"contextReduction"`
}

// AutoCommitEnabled reports whether stages commit their changes.
func (s *Settings) AutoCommitEnabled() bool {
	return s.AutoCommit == nil || *s.AutoCommit
}

// EffectiveExecutionMode returns the configured mode, defaulting to parallel.
func (s *Settings) EffectiveExecutionMode() string {
	if s.ExecutionMode == "" {
		return ModeParallel
	}
	return s.ExecutionMode
}

// EffectiveFailureStrategy returns the configured strategy, defaulting to stop.
func (s *Settings) EffectiveFailureStrategy() string {
	if s.FailureStrategy == "" {
		return FailStop
	}
	return s.FailureStrategy
}

// ContextReduction bounds how much prior-stage context is replayed into
// later prompts.
type ContextReduction struct {
	Strategy         string `yaml:"strategy"` // truncate, summarize, none
	MaxTokens        int    `yaml:"maxTokens"`
	TriggerThreshold int    `yaml:"triggerThreshold"`
}

// GitPolicy controls branching and worktree isolation for a run.
type GitPolicy struct {
	BranchStrategy      string `yaml:"branchStrategy"` // reusable, ephemeral, none
	BranchPrefix        string `yaml:"branchPrefix"`
	BaseBranch          string `yaml:"baseBranch"`
	UseWorktree         bool   `yaml:"useWorktree"`
	PreserveWorkingTree *bool  `yaml:"preserveWorkingTree"` // default true
	AutoPush            bool   `yaml:"autoPush"`
	CreatePR            bool   `yaml:"createPR"`
}

// PreserveWorkingTreeEnabled defaults to true: in-place runs leave the
// operator's tree alone unless told otherwise.
func (g *GitPolicy) PreserveWorkingTreeEnabled() bool {
	return g.PreserveWorkingTree == nil || *g.PreserveWorkingTree
}

// EffectiveBranchStrategy returns the configured strategy, defaulting to none.
func (g *GitPolicy) EffectiveBranchStrategy() string {
	if g.BranchStrategy == "" {
		return BranchNone
	}
	return g.BranchStrategy
}

// Notifications configures outbound channels.
type Notifications struct {
	Slack *SlackChannel `yaml:"slack"`
	Email *EmailChannel `yaml:"email"`
	Local bool          `yaml:"local"`
}

// SlackChannel posts to an incoming webhook.
type SlackChannel struct {
	WebhookURL string `yaml:"webhookUrl"`
}

// EmailChannel hands off to a local sendmail-compatible command.
type EmailChannel struct {
	To      []string `yaml:"to"`
	From    string   `yaml:"from"`
	Command string   `yaml:"command"`
}

// Looping enables the loop scheduler for this pipeline.
type Looping struct {
	Enabled       bool `yaml:"enabled"`
	MaxIterations int  `yaml:"maxIterations"`
}
