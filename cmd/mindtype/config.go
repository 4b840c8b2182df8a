package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mindtype/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect engine configuration",
}

var checkBlob bool

var configCheckCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Validate a config file or initialize blob",
	Long: `Validates a TOML, YAML or JSON config file. With --blob the file is read
as a raw initialize blob and every problem the engine would fall back on
is listed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigCheck(args[0], checkBlob, cmd.OutOrStdout())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [FILE]",
	Short: "Print the effective configuration as an initialize blob",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		explicit := ""
		if len(args) == 1 {
			explicit = args[0]
		}
		path, err := resolveConfigPath(explicit)
		if err != nil {
			return err
		}
		return runConfigShow(path, cmd.OutOrStdout())
	},
}

var configPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the known presets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range config.Presets() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

func init() {
	configCheckCmd.Flags().BoolVar(&checkBlob, "blob", false, "Treat FILE as an initialize blob")
	configCmd.AddCommand(configCheckCmd, configShowCmd, configPresetsCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(path string, blob bool, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var cfg config.Config
	if blob {
		cfg, err = config.Parse(data)
	} else {
		cfg, err = config.LoadFile(path)
	}
	if err != nil {
		var verrs config.ValidationErrors
		var verr *config.ValidationError
		switch {
		case errors.As(err, &verrs):
			for _, v := range verrs {
				fmt.Fprintf(out, "%s: %s\n", v.Field, v.Message)
			}
		case errors.As(err, &verr):
			fmt.Fprintf(out, "%s: %s\n", verr.Field, verr.Message)
		default:
			fmt.Fprintln(out, err)
		}
		return fmt.Errorf("%s: %w", path, config.ErrInvalid)
	}

	fmt.Fprintf(out, "%s: ok (model %s, preset %s)\n", path, cfg.Model, cfg.Preset)
	return nil
}

func runConfigShow(path string, out io.Writer) error {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
