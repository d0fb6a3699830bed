package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/config"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
)

var (
	envFile   string
	verbose   bool
	logFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ocrctl",
	Short: "Hybrid PDF text extraction",
	Long: `ocrctl extracts text from PDFs, using the embedded text layer where a page
has one and falling back to OCR with preset retries where it does not.

It can process files locally, submit them to the worker queue and search
pages stored by earlier runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set
		_ = godotenv.Load(envFile)

		loaded, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		format := cfg.LogFormat
		if cmd.Flags().Changed("log-format") {
			format = logFormat
		}
		// Summaries go to stdout, logs to stderr
		logging.Configure(level, format, cmd.ErrOrStderr())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable pipeline debug logs")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console or json)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
