// Package cli wires the agentpipe commands.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentpipe/agentpipe/internal/analytics"
	"github.com/agentpipe/agentpipe/internal/config"
	"github.com/agentpipe/agentpipe/internal/logging"
	"github.com/agentpipe/agentpipe/internal/notify"
	"github.com/agentpipe/agentpipe/internal/runtime"
	"github.com/agentpipe/agentpipe/internal/state"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	flagRepo     string
	flagLogLevel string
	flagLogJSON  bool
	flagQuiet    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentpipe",
	Short: "agentpipe — run pipelines of AI agents against a git repository",
	Long: `agentpipe executes user-declared pipelines of AI agents against a git
repository: it plans stage dependencies, runs independent stages in parallel,
isolates runs on branches or worktrees, commits each stage's changes, and
hands context forward between stages.

Pipelines live under <repo>/.agent-pipeline/pipelines/, agent prompt files
under <repo>/.agent-pipeline/agents/. Run state is persisted as JSON under
<repo>/.agent-pipeline/state/.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

const (
	exitFailure    = 1
	exitValidation = 2
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRepo, "repo", "r", ".", "repository directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "write JSON logs to stderr")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress console log output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(analyticsCmd)
}

// app is the shared wiring every command starts from: resolved repo path,
// global settings, and a configured logger.
type app struct {
	repoDir  string
	settings *config.GlobalSettings
	log      zerolog.Logger
}

// newApp resolves the repository, loads .env and global settings, and builds
// the logger. .env is best-effort; most setups use real environment variables.
func newApp() (*app, error) {
	repoDir, err := filepath.Abs(flagRepo)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}

	_ = godotenv.Load(filepath.Join(repoDir, ".env"))

	gs, err := config.LoadGlobalSettings(repoDir)
	if err != nil {
		return nil, err
	}

	level := gs.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	log, err := logging.New(logging.Options{
		Level:   level,
		Dir:     filepath.Join(repoDir, state.DirName, "logs"),
		Console: !flagQuiet,
		JSON:    flagLogJSON || gs.Logging.JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	return &app{repoDir: repoDir, settings: gs, log: log}, nil
}

// resolveRuntime registers the configured subprocess runtime and returns it.
func (a *app) resolveRuntime() (runtime.Runtime, error) {
	runtime.Register(runtime.NewCommandRuntime(a.settings.Runtime.Name, a.settings.Runtime.Command))
	return runtime.Get(a.settings.Runtime.Name)
}

// openAnalytics opens the local analytics database when enabled. Failures are
// warnings; recording is always best-effort.
func (a *app) openAnalytics() *analytics.DB {
	if !a.settings.Analytics {
		return nil
	}
	db, err := analytics.Open(analytics.DefaultPath(a.repoDir))
	if err != nil {
		a.log.Warn().Err(err).Msg("analytics unavailable")
		return nil
	}
	if err := db.Migrate(); err != nil {
		a.log.Warn().Err(err).Msg("analytics migration failed")
		db.Close()
		return nil
	}
	return db
}

// buildNotifier assembles the channels a pipeline config asks for.
func (a *app) buildNotifier(cfg *config.PipelineConfig) *notify.Notifier {
	var channels []notify.Channel
	if cfg.Notifications.Local {
		channels = append(channels, notify.NewLocalChannel(a.log))
	}
	if s := cfg.Notifications.Slack; s != nil && s.WebhookURL != "" {
		channels = append(channels, notify.NewSlackChannel(s.WebhookURL))
	}
	if e := cfg.Notifications.Email; e != nil && len(e.To) > 0 {
		channels = append(channels, notify.NewEmailChannel(e.To, e.From, e.Command))
	}
	return notify.NewNotifier(channels...)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agentpipe version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agentpipe version %s\n", version)
	},
}
