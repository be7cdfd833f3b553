package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// GlobalSettings are orchestrator-level options, independent of any single
// pipeline. Loaded from <repo>/.agent-pipeline/config.yaml and AGENTPIPE_*
// environment variables.
type GlobalSettings struct {
	Runtime   RuntimeSettings `mapstructure:"runtime"`
	Logging   LogSettings     `mapstructure:"logging"`
	Analytics bool            `mapstructure:"analytics"`
}

// RuntimeSettings selects and configures the agent runtime.
type RuntimeSettings struct {
	Name    string   `mapstructure:"name"`    // registry key, default "claude"
	Command []string `mapstructure:"command"` // argv override for the subprocess runtime
}

// LogSettings configures log output.
type LogSettings struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// LoadGlobalSettings reads global settings for a repository. A missing config
// file is fine; defaults and environment variables still apply.
func LoadGlobalSettings(repoDir string) (*GlobalSettings, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(repoDir, ".agent-pipeline"))

	v.SetEnvPrefix("AGENTPIPE")
	v.AutomaticEnv()

	v.SetDefault("runtime.name", "claude")
	v.SetDefault("logging.level", "info")
	v.SetDefault("analytics", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global settings: %w", err)
		}
	}

	var gs GlobalSettings
	if err := v.Unmarshal(&gs); err != nil {
		return nil, fmt.Errorf("unmarshal global settings: %w", err)
	}
	return &gs, nil
}
