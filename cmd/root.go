package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/logging"
	"github.com/littlehelper/littlehelper/internal/telemetry"
)

// EnvLogLevel overrides --log-level when the flag is not given.
const EnvLogLevel = "LH_LOG_LEVEL"

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "littlehelper",
	Short: "A local assistant for finding, fixing and organizing your files",
	Long: `Little Helper indexes the folders you allow, searches them by name,
content and meaning, and changes files only in ways that can be undone:
every overwrite is versioned and every removal is an archive.

It can be used directly from the command line, as an interactive chat
backed by the configured model providers, as an MCP server for coding
assistants, or through a local HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if !cmd.Flags().Changed("log-level") {
			if env := os.Getenv(EnvLogLevel); env != "" {
				level = env
			}
		}
		cfg := logging.DefaultConfig()
		cfg.Level = logging.ParseLevel(level)
		cfg.Format = logFormat
		logging.New(cfg)

		telemetry.SetVersion(Version)
		telemetry.Init()
		if cmd.Name() != "littlehelper" {
			telemetry.TrackCommand(cmd.Name())
		}
	},
}

// Execute runs the command line and reports a failure in plain words.
func Execute() error {
	defer telemetry.Close()
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", fault.Friendly(err))
		telemetry.TrackError(fault.Category(err))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setupCmd)
}
