package cli

import (
	"fmt"

	"github.com/harun/sfagent/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP query service",
	Long: `Start the HTTP query service in the foreground.
POST /query answers questions; GET /health and GET /metrics report status.
The service drains in-flight queries on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	return d.Wait()
}
