package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sweeney/smartfan/internal/config"
	"github.com/sweeney/smartfan/internal/logging"
)

// rootOptions holds global flags and the loaded configuration.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "smartfan",
		Short: "Presence-triggered fan control",
		Long: `smartfan switches a fan from a noisy presence signal.

  serve    run the coordinator (desired state, event log, HTTP API)
  detect   run the decision engine on an observation stream
  actuate  poll the coordinator and drive the relay`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = opts.logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDetectCommand(opts))
	cmd.AddCommand(newActuateCommand(opts))

	return cmd
}
