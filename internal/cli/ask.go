package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/harun/sfagent/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	askSessionID     string
	askMaxIterations int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the JSON response",
	Long: `Answer one question without starting the HTTP service.
The response has the same shape as POST /query. Logs go to stderr.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session-id", "", "session id attached to logs and echoed back")
	askCmd.Flags().IntVar(&askMaxIterations, "max-iterations", 0, "model round trip budget (default from config)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if askMaxIterations < 0 || askMaxIterations > 50 {
		return fmt.Errorf("max-iterations must be between 0 and 50 (0 = default)")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	resp, err := d.Query(cmd.Context(), question, askSessionID, askMaxIterations)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
