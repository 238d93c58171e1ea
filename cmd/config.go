package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "critic"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage critic configuration.

Running bare 'critic config' is the same as 'critic config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is written by 'critic config init'.
const configTemplate = `# critic configuration
# See: critic config show (for effective values)

# SQLite database path (default: ~/.config/critic/critic.db)
# db_path:

github:
  # Token used for repository retrieval when no Authorization header or
  # --token flag is given. Also settable via CRITIC_GITHUB_TOKEN.
  # token:

anthropic:
  # API key for the model backend. Also settable via CRITIC_ANTHROPIC_API_KEY.
  # api_key:
  # model: claude-haiku-4-5-20251001

llm:
  # Per-request model timeout
  # timeout: 60s

analysis:
  # chunk_bytes: 6000
  # chunk_parallelism: 4
  # max_files: 100
  # max_file_bytes: 102400
  # max_total_bytes: 1048576
  # task_timeout: 10m
  # YAML file tuning severity keywords and duplicate collapse
  # policy_path:

retry:
  # max_attempts: 3
  # base_delay: 1s

# Worker pool size for the serve and mcp commands
# workers: 4

# HTTP port for the serve command
# port: 8080
`

func configInitRun() error {
	dir, err := configDirFunc()
	if err != nil {
		return fmt.Errorf("find config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	ui.Success("created %s", path)
	return nil
}

func configShowRun() error {
	settings := viper.AllSettings()

	// Never echo credentials.
	if gh, ok := settings["github"].(map[string]any); ok && gh["token"] != "" {
		gh["token"] = "<set>"
	}
	if an, ok := settings["anthropic"].(map[string]any); ok && an["api_key"] != "" {
		an["api_key"] = "<set>"
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}
	fmt.Fprint(ui.Out, string(data))
	return nil
}

func configEditRun() error {
	dir, err := configDirFunc()
	if err != nil {
		return fmt.Errorf("find config directory: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	c := exec.Command(editor, path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
