// Package main provides the topo4d-form binary entry point.
// The service collects Topo4D point cloud metadata through a web form and
// assembles it into schema-validated STAC Items.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/c360studio/topo4dform/config"
	"github.com/c360studio/topo4dform/geometry"
	"github.com/c360studio/topo4dform/validation"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "topo4d-form"
)

// errInvalid reports that a validated document had findings.
var errInvalid = errors.New("document is not valid")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by all subcommands.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Topo4D metadata form service",
		Long: `topo4d-form collects metadata about 4D topographic point cloud data
through a web form and turns it into STAC Items carrying the Topo4D
extension.

Every submission is merged into the caller's session, the Item is rebuilt
and validated against the extension schema, and the result is returned
together with any violations.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&flags),
		validateCmd(&flags),
		deriveCmd(&flags),
		initConfigCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

// setup loads configuration and installs the default logger.
func setup(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.NewLoader(slog.Default()).Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func validateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <item.json>",
		Short: "Validate an Item file against the extension schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}

			var doc any
			if err := readJSON(args[0], &doc); err != nil {
				return err
			}

			v, err := validation.Load(cmd.Context(), validation.Options{
				URL:     cfg.Schema.URL,
				Timeout: cfg.Schema.Timeout,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			res, err := v.Validate(doc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Valid() {
				fmt.Fprintf(out, "%s: valid\n", args[0])
				return nil
			}
			for _, f := range res.Findings {
				fmt.Fprintln(out, f.String())
			}
			return fmt.Errorf("%s: %w (%d findings)", args[0], errInvalid, len(res.Findings))
		},
	}
}

func deriveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "derive <header.json>",
		Short: "Print the footprint derived from a point cloud header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := setup(flags)
			if err != nil {
				return err
			}

			var hdr geometry.Header
			if err := readJSON(args[0], &hdr); err != nil {
				return err
			}

			res, err := geometry.NewDeriver(geometry.NewProjReprojector(), logger).Derive(hdr)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"bbox":        res.BBox,
				"geometry":    res.Geometry,
				"crs":         res.CRS,
				"reprojected": res.Reprojected,
			})
		},
	}
}

func initConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to path, or to the user config
file (~/.config/topo4d/config.yaml) when no path is given. An existing
user config file is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return config.DefaultConfig().SaveToFile(args[0])
			}
			return config.NewLoader(slog.Default()).EnsureUserConfig()
		},
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
