package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testValidator stubs every environment probe as healthy.
func testValidator(repoDir string) *Validator {
	return &Validator{
		RepoDir: repoDir,
		LookupEnv: func(key string) (string, bool) {
			if key == "ANTHROPIC_API_KEY" {
				return "sk-test", true
			}
			return "", false
		},
		LookPath: func(string) (string, error) { return "/usr/bin/gh", nil },
		GhAuth:   func() error { return nil },
	}
}

func repoWithAgent(t *testing.T, agents ...string) string {
	t.Helper()
	repo := t.TempDir()
	for _, a := range agents {
		path := filepath.Join(repo, a)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("prompt"), 0o644))
	}
	return repo
}

func validConfig() *PipelineConfig {
	return &PipelineConfig{
		Name:    "ci",
		Trigger: "manual",
		Agents: []AgentStage{
			{Name: "lint", Agent: "agents/lint.md"},
		},
	}
}

func fieldsWith(issues []Issue, severity Severity) []string {
	var out []string
	for _, i := range issues {
		if i.Severity == severity {
			out = append(out, i.Field)
		}
	}
	return out
}

func TestValidateHealthyConfig(t *testing.T) {
	repo := repoWithAgent(t, "agents/lint.md")
	issues := testValidator(repo).Validate(validConfig())
	assert.Empty(t, issues)
}

func TestValidateRequiredFields(t *testing.T) {
	repo := t.TempDir()
	issues := testValidator(repo).Validate(&PipelineConfig{Trigger: "hourly"})
	fields := fieldsWith(issues, SeverityError)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "trigger")
	assert.Contains(t, fields, "agents")
}

func TestValidateStageNames(t *testing.T) {
	repo := repoWithAgent(t, "agents/a.md")
	cfg := validConfig()
	cfg.Agents = []AgentStage{
		{Name: "lint", Agent: "agents/a.md"},
		{Name: "lint", Agent: "agents/a.md"},
		{Name: "9bad", Agent: "agents/a.md"},
	}
	issues := testValidator(repo).Validate(cfg)
	var dup, bad bool
	for _, i := range issues {
		if i.Severity != SeverityError {
			continue
		}
		switch {
		case i.Field == "agents[1].name":
			dup = true
		case i.Field == "agents[2].name":
			bad = true
		}
	}
	assert.True(t, dup, "duplicate name should error: %v", issues)
	assert.True(t, bad, "invalid name should error: %v", issues)
}

func TestValidateMissingAgentFile(t *testing.T) {
	repo := t.TempDir()
	issues := testValidator(repo).Validate(validConfig())
	require.True(t, HasErrors(issues))
	assert.Contains(t, fieldsWith(issues, SeverityError), "agents[0].agent")
}

func TestValidateDependsOn(t *testing.T) {
	repo := repoWithAgent(t, "agents/a.md")
	off := false
	cfg := validConfig()
	cfg.Agents = []AgentStage{
		{Name: "gate", Agent: "agents/a.md", Enabled: &off},
		{Name: "lint", Agent: "agents/a.md", DependsOn: []string{"ghost", "gate"}},
	}
	issues := testValidator(repo).Validate(cfg)
	assert.Contains(t, fieldsWith(issues, SeverityError), "agents[1].dependsOn", "unknown reference")
	assert.Contains(t, fieldsWith(issues, SeverityWarning), "agents[1].dependsOn", "disabled prerequisite")
}

func TestValidateCycle(t *testing.T) {
	repo := repoWithAgent(t, "agents/a.md")
	cfg := validConfig()
	cfg.Agents = []AgentStage{
		{Name: "x", Agent: "agents/a.md", DependsOn: []string{"y"}},
		{Name: "y", Agent: "agents/a.md", DependsOn: []string{"x"}},
	}
	issues := testValidator(repo).Validate(cfg)
	found := false
	for _, i := range issues {
		if i.Field == "agents" && i.Severity == SeverityError {
			found = true
			assert.Contains(t, i.Message, "cycle")
		}
	}
	assert.True(t, found, "cycle should be reported: %v", issues)
}

func TestValidateTimeoutAndRetryBounds(t *testing.T) {
	repo := repoWithAgent(t, "agents/a.md")
	cfg := validConfig()
	cfg.Agents = []AgentStage{
		{Name: "slow", Agent: "agents/a.md", Timeout: 1800, Retry: Retry{MaxAttempts: 20, Delay: 500}},
	}
	issues := testValidator(repo).Validate(cfg)
	assert.Contains(t, fieldsWith(issues, SeverityWarning), "agents[0].timeout")
	errs := fieldsWith(issues, SeverityError)
	assert.Contains(t, errs, "agents[0].retry.maxAttempts")
	assert.Contains(t, errs, "agents[0].retry.delay")
}

func TestValidateConditions(t *testing.T) {
	repo := repoWithAgent(t, "agents/a.md")
	cfg := validConfig()
	cfg.Agents = []AgentStage{
		{Name: "review", Agent: "agents/a.md"},
		{Name: "deploy", Agent: "agents/a.md", Condition: "{{ stages.review.outputs.passed }}"},
		{Name: "bad-syntax", Agent: "agents/a.md", Condition: "{{ 1 + }}"},
		{Name: "bad-ref", Agent: "agents/a.md", Condition: "{{ stages.ghost.outputs.x }}"},
	}
	issues := testValidator(repo).Validate(cfg)
	errs := fieldsWith(issues, SeverityError)
	assert.Contains(t, errs, "agents[2].condition")
	assert.Contains(t, errs, "agents[3].condition")
	assert.NotContains(t, errs, "agents[1].condition")
}

func TestValidateSettingsEnums(t *testing.T) {
	repo := repoWithAgent(t, "agents/lint.md")
	cfg := validConfig()
	cfg.Settings.ExecutionMode = "sideways"
	cfg.Settings.FailureStrategy = "retry"
	cfg.Settings.PermissionMode = "yolo"
	cfg.Settings.CommitPrefix = "[bot]"
	cfg.Git.BranchStrategy = "rebase"
	issues := testValidator(repo).Validate(cfg)

	errs := fieldsWith(issues, SeverityError)
	assert.Contains(t, errs, "settings.executionMode")
	assert.Contains(t, errs, "settings.failureStrategy")
	assert.Contains(t, errs, "settings.permissionMode")
	assert.Contains(t, errs, "git.branchStrategy")
	assert.Contains(t, fieldsWith(issues, SeverityWarning), "settings.commitPrefix")
}

func TestValidateBypassPermissionsWarns(t *testing.T) {
	repo := repoWithAgent(t, "agents/lint.md")
	cfg := validConfig()
	cfg.Settings.PermissionMode = "bypassPermissions"
	issues := testValidator(repo).Validate(cfg)
	assert.False(t, HasErrors(issues))
	assert.Contains(t, fieldsWith(issues, SeverityWarning), "settings.permissionMode")
}

func TestValidateContextReductionBounds(t *testing.T) {
	repo := repoWithAgent(t, "agents/lint.md")
	cfg := validConfig()
	cfg.Settings.ContextReduction = ContextReduction{Strategy: "truncate", MaxTokens: 100, TriggerThreshold: 200}
	issues := testValidator(repo).Validate(cfg)
	assert.Contains(t, fieldsWith(issues, SeverityError), "settings.contextReduction.triggerThreshold")
}

func TestValidateSlackWebhookURL(t *testing.T) {
	repo := repoWithAgent(t, "agents/lint.md")
	cfg := validConfig()
	cfg.Notifications.Slack = &SlackChannel{WebhookURL: "https://example.com/hook"}
	issues := testValidator(repo).Validate(cfg)
	assert.Contains(t, fieldsWith(issues, SeverityError), "notifications.slack.webhookUrl")
}

func TestValidateEnvironment(t *testing.T) {
	repo := repoWithAgent(t, "agents/lint.md")

	v := testValidator(repo)
	v.LookupEnv = func(string) (string, bool) { return "", false }
	issues := v.Validate(validConfig())
	assert.Contains(t, fieldsWith(issues, SeverityError), "environment")

	// gh checks only run when createPR is on.
	v = testValidator(repo)
	v.LookPath = func(string) (string, error) { return "", fmt.Errorf("not found") }
	issues = v.Validate(validConfig())
	assert.NotContains(t, fieldsWith(issues, SeverityError), "git.createPR")

	cfg := validConfig()
	cfg.Git.CreatePR = true
	issues = v.Validate(cfg)
	assert.Contains(t, fieldsWith(issues, SeverityError), "git.createPR")

	v = testValidator(repo)
	v.GhAuth = func() error { return fmt.Errorf("not logged in") }
	issues = v.Validate(cfg)
	assert.Contains(t, fieldsWith(issues, SeverityError), "git.createPR")
}
