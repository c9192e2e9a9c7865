package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/wsaudit/internal/config"
)

var (
	cfgFile      string
	outputFormat string
	rulesPath    string
	logLevel     string
	dbPath       string
)

func init() {
	cobra.OnInitialize(initConfig)
}

// NewRootCmd builds the wsaudit command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wsaudit",
		Short: "wsaudit - workspace membership and permission auditing",
		Long: `wsaudit compares successive snapshots of a collaboration workspace,
detects risky changes such as new admins without 2FA, mass channel archival,
or storage exhaustion, and notifies Slack, email, and webhook channels.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.wsaudit/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "alert rules file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite history database path")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("rules", rootCmd.PersistentFlags().Lookup("rules"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(newDiffCmd())
	rootCmd.AddCommand(newDetectCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("WSAUDIT")
	viper.AutomaticEnv()

	viper.SetDefault("output", "table")
	viper.SetDefault("server_url", "http://127.0.0.1:9090")

	_ = viper.ReadInConfig()
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wsaudit"), nil
}

// loadConfig reads the environment configuration and applies the CLI config
// file and flags on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("rules"); v != "" {
		cfg.Audit.RulesPath = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := viper.GetString("log_format"); v != "" {
		cfg.Logging.Format = v
	}
	if v := viper.GetString("database.driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("database.path"); v != "" {
		cfg.Database.Path = v
	}
	if v := viper.GetString("spool_dir"); v != "" {
		cfg.Audit.SpoolDir = v
	}
	if v := viper.GetString("slack.webhook_url"); v != "" {
		cfg.Notification.Slack.WebhookURL = v
	}
	if v := viper.GetString("webhook.url"); v != "" {
		cfg.Notification.Webhook.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getOutputFormat() string {
	if outputFormat != "" && outputFormat != "table" {
		return outputFormat
	}
	return viper.GetString("output")
}
