// Package cli implements the eurec4a command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d70-t/how-to-eurec4a/internal/app"
	"github.com/d70-t/how-to-eurec4a/internal/config"
	"github.com/d70-t/how-to-eurec4a/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "text" | "json" | "parquet"

	// Config is used instead of loading ConfigPath when set
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "parquet"}

// NewRootCommand creates the root command of the eurec4a CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eurec4a",
		Short: "Query EUREC4A flight segments and cloud products",
		Long: `Browse the EUREC4A intake catalog and the flight phase segmentation,
and compute cloud fractions of flag-coded datasets over flight segments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|parquet)")

	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewSegmentsCommand(opts))
	cmd.AddCommand(NewDatasetCommand(opts))
	cmd.AddCommand(NewFractionCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) config() (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "loading configuration", err)
	}
	o.Config = cfg
	return cfg, nil
}

// service configures logging and opens the application service. The
// caller closes it.
func (o *RootOptions) service() (*app.Service, *logger.Log, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}

	log := logger.GetLogger()
	level := cfg.Logging.Level
	if o.Verbose {
		level = "debug"
	}
	if err := log.Configure(level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, nil, WrapExitError(ExitUsage, "configuring logging", err)
	}

	svc, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "opening service", err)
	}
	return svc, log, nil
}

// textOrJSON rejects formats a listing command cannot produce
func (o *RootOptions) textOrJSON(command string) error {
	if o.Format == "parquet" {
		return NewExitError(ExitUsage, command+" supports --format text or json")
	}
	return nil
}
