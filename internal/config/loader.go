package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PipelinesDir is where pipeline files live inside a repository.
const PipelinesDir = ".agent-pipeline/pipelines"

// AgentsDir is where agent prompt files live inside a repository.
const AgentsDir = ".agent-pipeline/agents"

// Load reads and parses a pipeline configuration from a YAML file. The file
// is first checked against the embedded JSON schema, then unmarshalled.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}

	if err := ValidateSchema(data); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pipeline YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromRepo loads a named pipeline from <repo>/.agent-pipeline/pipelines.
// Both <name>.yml and <name>.yaml are accepted.
func LoadFromRepo(repoDir string, name string) (*PipelineConfig, error) {
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(repoDir, PipelinesDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("pipeline %q not found under %s", name, filepath.Join(repoDir, PipelinesDir))
}

// PipelinePath returns the canonical file path for a named pipeline.
func PipelinePath(repoDir string, name string) string {
	return filepath.Join(repoDir, PipelinesDir, name+".yml")
}

// ListPipelines returns the names of all pipeline files in a repository.
func ListPipelines(repoDir string) ([]string, error) {
	dir := filepath.Join(repoDir, PipelinesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yml") {
			names = append(names, strings.TrimSuffix(name, ".yml"))
		} else if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		}
	}
	return names, nil
}

// Marshal serializes a config back to YAML (used by export).
func Marshal(cfg *PipelineConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline YAML: %w", err)
	}
	return data, nil
}

// applyDefaults fills in pipeline-level defaults.
func applyDefaults(cfg *PipelineConfig) {
	if cfg.Trigger == "" {
		cfg.Trigger = "manual"
	}
	if cfg.Settings.ExecutionMode == "" {
		cfg.Settings.ExecutionMode = ModeParallel
	}
	if cfg.Settings.FailureStrategy == "" {
		cfg.Settings.FailureStrategy = FailStop
	}
	if cfg.Git.BranchStrategy == "" {
		cfg.Git.BranchStrategy = BranchNone
	}
	if cfg.Looping.Enabled && cfg.Looping.MaxIterations <= 0 {
		cfg.Looping.MaxIterations = 100
	}
}
