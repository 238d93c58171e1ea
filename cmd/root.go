package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/critic/internal/engine"
	"github.com/joescharf/critic/internal/github"
	"github.com/joescharf/critic/internal/llm"
	"github.com/joescharf/critic/internal/output"
	"github.com/joescharf/critic/internal/prompt"
	"github.com/joescharf/critic/internal/report"
	"github.com/joescharf/critic/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "critic",
	Short: "Asynchronous LLM-backed code review for repositories and pull requests",
	Long: `critic analyzes repositories and pull requests with an LLM and reports
security, performance, bug, style, and quality issues with deterministic
severities. Analyses run as durable tasks: submit, poll status, fetch
the report.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/critic/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("critic %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
		},
	})
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "critic")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CRITIC")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "critic")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "critic.db"))
	viper.SetDefault("github.token", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("analysis.chunk_bytes", 6000)
	viper.SetDefault("analysis.chunk_parallelism", 4)
	viper.SetDefault("analysis.max_files", 100)
	viper.SetDefault("analysis.max_file_bytes", 100*1024)
	viper.SetDefault("analysis.max_total_bytes", 1024*1024)
	viper.SetDefault("analysis.task_timeout", "10m")
	viper.SetDefault("analysis.policy_path", "")
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay", "1s")
	viper.SetDefault("workers", 4)
	viper.SetDefault("port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newLogger returns the CLI logger. Server commands log info and above;
// everything else stays quiet unless --verbose is set.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newServerLogger returns the logger for long-running server commands.
func newServerLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildEngine wires the full pipeline from configuration.
func buildEngine(st store.Store, logger *slog.Logger) (*engine.Engine, error) {
	policy := report.DefaultPolicy()
	if path := viper.GetString("analysis.policy_path"); path != "" {
		loaded, err := report.LoadPolicy(path)
		if err != nil {
			return nil, fmt.Errorf("load severity policy: %w", err)
		}
		policy = loaded
	}

	invoker := llm.NewClient(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
		viper.GetDuration("llm.timeout"),
	)

	cfg := engine.Config{
		Workers:          viper.GetInt("workers"),
		ChunkParallelism: viper.GetInt("analysis.chunk_parallelism"),
		Retry: engine.RetryPolicy{
			MaxAttempts: viper.GetInt("retry.max_attempts"),
			BaseDelay:   viper.GetDuration("retry.base_delay"),
		},
		TaskTimeout: viper.GetDuration("analysis.task_timeout"),
		Limits: github.Limits{
			MaxFiles:      viper.GetInt("analysis.max_files"),
			MaxFileBytes:  viper.GetInt("analysis.max_file_bytes"),
			MaxTotalBytes: viper.GetInt("analysis.max_total_bytes"),
		},
	}

	return engine.New(
		st,
		github.NewClient(),
		invoker,
		prompt.NewBuilder(viper.GetInt("analysis.chunk_bytes")),
		report.NewAggregator(policy),
		cfg,
		logger,
	), nil
}

// pollInterval is how often interactive commands re-check task state.
const pollInterval = 250 * time.Millisecond
