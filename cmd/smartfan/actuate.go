package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/smartfan/internal/actuator"
	"github.com/sweeney/smartfan/internal/client"
	"github.com/sweeney/smartfan/internal/config"
	"github.com/sweeney/smartfan/internal/gpio"
)

func newActuateCommand(root *rootOptions) *cobra.Command {
	var (
		server, chip string
		poll         time.Duration
		pin          int
		activeLow    bool
	)

	cmd := &cobra.Command{
		Use:   "actuate",
		Short: "Poll the coordinator and drive the fan relay",
		Long: `Poll the coordinator's desired state on a fixed interval and drive a relay
on a GPIO output line. A failed read keeps the current output. The relay is
switched off on exit.

Example:
  smartfan actuate --server http://fan-pi:8080 --pin 17 --poll 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			f := cmd.Flags()
			if f.Changed("server") {
				cfg.Actuator.Server = server
			}
			if f.Changed("poll") {
				cfg.Actuator.Poll = poll
			}
			if f.Changed("chip") {
				cfg.Actuator.Chip = chip
			}
			if f.Changed("pin") {
				cfg.Actuator.Pin = pin
			}
			if f.Changed("active-low") {
				cfg.Actuator.ActiveLow = activeLow
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runActuate(cfg.Actuator, root.log)
		},
	}

	def := config.Default().Actuator
	cmd.Flags().StringVar(&server, "server", def.Server, "coordinator base URL")
	cmd.Flags().DurationVar(&poll, "poll", def.Poll, "polling interval")
	cmd.Flags().StringVar(&chip, "chip", def.Chip, "GPIO chip name")
	cmd.Flags().IntVar(&pin, "pin", def.Pin, "relay output line (BCM numbering)")
	cmd.Flags().BoolVar(&activeLow, "active-low", def.ActiveLow, "relay is energised by a low line")

	return cmd
}

func runActuate(ac config.ActuatorConfig, log *slog.Logger) error {
	relay, err := gpio.NewRealRelay(ac.Chip, ac.Pin, ac.ActiveLow)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer func() {
		if err := relay.Close(); err != nil {
			log.Error("release relay", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(ac.Server, client.WithTimeout(ac.Timeout))
	poller := actuator.New(c, relay, ac.Timeout, log)

	ticker := time.NewTicker(ac.Poll)
	defer ticker.Stop()

	log.Info("actuator started", "server", ac.Server, "poll", ac.Poll, "chip", ac.Chip,
		"pin", ac.Pin, "active_low", ac.ActiveLow)
	err = poller.Run(ctx, ticker.C)
	st := poller.Stats()
	log.Info("actuator stopped", "reads", st.Reads, "read_errors", st.ReadErrors, "writes", st.Writes)
	return err
}
