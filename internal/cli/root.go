package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/harun/sfagent/internal/config"
	"github.com/harun/sfagent/internal/daemon"
	"github.com/harun/sfagent/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sfagent",
	Short: "sfagent - Salesforce lookup agent",
	Long: `sfagent answers natural-language questions about a Salesforce org.
A language model drives read-only lookups (Apex source, metadata search and
object schemas) and replies with an answer plus a log of the tools it used.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sfagent/sfagent.json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return daemon.Version
}

// loadConfig reads and validates configuration, applying flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile, config.WithEnvFile(envFile)).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return cfg, nil
}

// newLogger builds the process logger; console output goes to out
func newLogger(cfg *config.Config, out io.Writer) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    out,
	})
}
