package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mindtype/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "mindtype",
	Short: "mindtype runs the typing correction engine outside a host",
	Long: `mindtype feeds request records to the correction engine the same way a
host does through the shared library, and can journal, replay and check
those sessions.`,
	SilenceUsage: true,
}

// logFlags are the persistent logging flags.
var logFlags logOptions

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFlags.Level, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFlags.Format, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFlags.File, "log-file", "", "Write logs to a rotated file instead of stderr")
}

type logOptions struct {
	Level  string
	Format string
	File   string
}

// newLogger builds the CLI logger. Without a file, logs go to stderr.
func newLogger(opts logOptions, stderr io.Writer) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	if opts.Level != "" {
		level, err := logging.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	format, err := logging.ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	cfg.Format = format
	cfg.Component = "mindtype-cli"

	if opts.File != "" {
		cfg.Output = "file"
		cfg.FilePath = opts.File
	} else {
		cfg.Writer = stderr
	}
	return logging.New(cfg)
}
