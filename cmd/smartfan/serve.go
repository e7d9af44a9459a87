package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/smartfan/internal/config"
	"github.com/sweeney/smartfan/internal/coordinator"
	"github.com/sweeney/smartfan/internal/mqtt"
	"github.com/sweeney/smartfan/internal/status"
	"github.com/sweeney/smartfan/internal/store"
	"github.com/sweeney/smartfan/internal/web"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen, db, broker string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		Long: `Run the coordinator: the single source of truth for the fan's desired
state. It accepts submissions from the decision engine, appends every one to
the event log and serves desired-state reads to actuator pollers.

Example:
  smartfan serve --listen :8080 --db /var/lib/smartfan/smartfan.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("listen") {
				cfg.Coordinator.Listen = listen
			}
			if cmd.Flags().Changed("db") {
				cfg.Coordinator.DB = db
			}
			if cmd.Flags().Changed("broker") {
				cfg.MQTT.Broker = broker
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg.Coordinator, cfg.MQTT, root.log)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&db, "db", "smartfan.db", "path to SQLite database")
	cmd.Flags().StringVar(&broker, "broker", "", "MQTT broker URL (empty disables)")

	return cmd
}

func runServe(cc config.CoordinatorConfig, mc config.MQTTConfig, log *slog.Logger) error {
	st, err := store.Open(cc.DB)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("close store", "error", err)
		}
	}()

	tracker := status.NewTracker(time.Now(), status.Config{
		Listen:      cc.Listen,
		DB:          cc.DB,
		EventsLimit: cc.EventsLimit,
		Broker:      mc.Broker,
		TopicPrefix: mc.TopicPrefix,
	})
	if info := readNetworkInfo(); info != nil {
		tracker.SetNetwork(info)
	}

	opts := []coordinator.Option{
		coordinator.WithLogger(log),
		coordinator.WithNotifier(tracker),
	}

	var publisher mqtt.Publisher
	if mc.Broker != "" {
		rp := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             mc.Broker,
			ClientID:           mc.ClientID,
			TopicPrefix:        mc.TopicPrefix,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		defer rp.Close()
		publisher = rp

		notifier := mqtt.NewNotifier(rp, 0)
		defer notifier.Close()
		opts = append(opts, coordinator.WithNotifier(notifier))
	}

	ctx := context.Background()
	svc, err := coordinator.New(ctx, st, opts...)
	if err != nil {
		return fmt.Errorf("load desired state: %w", err)
	}
	tracker.SetDesired(svc.ReadDesired())

	if publisher != nil {
		publishStartup(publisher, tracker, log)
		if err := publisher.PublishDesired(svc.ReadDesired()); err != nil {
			log.Warn("publish desired state failed", "error", err)
		}
	}

	ln, err := net.Listen("tcp", cc.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cc.Listen, err)
	}
	srv := web.New(cc.Listen, svc, tracker, log)
	srv.SetEventsLimit(cc.EventsLimit)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("coordinator started", "listen", ln.Addr().String(), "db", cc.DB,
		"desired", svc.ReadDesired(), "mqtt", mc.Broker != "")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return waitServe(srv, errCh, sigCh, publisher, tracker, log)
}

// shutdowner is the part of web.Server that waitServe needs.
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// waitServe blocks until a signal arrives or the HTTP server fails, then
// publishes SHUTDOWN and stops the server.
func waitServe(srv shutdowner, errCh <-chan error, sig <-chan os.Signal, publisher mqtt.Publisher, tracker *status.Tracker, log *slog.Logger) error {
	var serveErr error
	reason := ""
	select {
	case s := <-sig:
		reason = signalName(s)
		log.Info("shutting down", "signal", reason)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
		reason = "SERVER_ERROR"
	}

	if publisher != nil {
		snap := tracker.Snapshot()
		event := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "SHUTDOWN",
			Reason:     reason,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
		}
		if err := publisher.PublishSystem(event); err != nil {
			log.Warn("publish shutdown event failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	return serveErr
}

func publishStartup(publisher mqtt.Publisher, tracker *status.Tracker, log *slog.Logger) {
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Warn("publish startup event failed", "error", err)
		return
	}
	log.Info("published startup event")
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
