package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/smartfan/internal/client"
	"github.com/sweeney/smartfan/internal/config"
	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/mqtt"
	"github.com/sweeney/smartfan/internal/source"
)

// reassertCheckEvery is how often the loop asks the engine whether an
// undelivered state is due to be re-sent.
const reassertCheckEvery = time.Second

func newDetectCommand(root *rootOptions) *cobra.Command {
	var (
		server, src        string
		threshold          float64
		frames             int
		offGrace, reassert time.Duration
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the decision engine on an observation stream",
		Long: `Run the decision engine. Observations are read as NDJSON from stdin
(one {"present":bool,"confidence":float,"ts":"RFC3339"} per line) or from the
MQTT observations topic. Every ON/OFF transition is submitted to the
coordinator; delivery failures never stop the engine.

Example:
  detector | smartfan detect --server http://fan-pi:8080 --frames-to-on 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			f := cmd.Flags()
			if f.Changed("server") {
				cfg.Engine.Server = server
			}
			if f.Changed("source") {
				cfg.Engine.Source = src
			}
			if f.Changed("on-threshold") {
				cfg.Engine.OnThreshold = threshold
			}
			if f.Changed("frames-to-on") {
				cfg.Engine.FramesToOn = frames
			}
			if f.Changed("off-grace") {
				cfg.Engine.OffGrace = offGrace
			}
			if f.Changed("reassert-interval") {
				cfg.Engine.ReassertInterval = reassert
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDetect(cfg, root.log)
		},
	}

	def := config.Default().Engine
	cmd.Flags().StringVar(&server, "server", def.Server, "coordinator base URL")
	cmd.Flags().StringVar(&src, "source", def.Source, "observation source (stdin|mqtt)")
	cmd.Flags().Float64Var(&threshold, "on-threshold", def.OnThreshold, "minimum confidence for a positive observation")
	cmd.Flags().IntVar(&frames, "frames-to-on", def.FramesToOn, "consecutive positives required to turn on")
	cmd.Flags().DurationVar(&offGrace, "off-grace", def.OffGrace, "time without a positive before turning off")
	cmd.Flags().DurationVar(&reassert, "reassert-interval", def.ReassertInterval, "re-send interval after a failed delivery (0 disables)")

	return cmd
}

func runDetect(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var obs <-chan logic.Observation
	switch cfg.Engine.Source {
	case "mqtt":
		sub := mqtt.NewRealSubscriber(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		defer sub.Close()
		topic := mqtt.NewTopics(cfg.MQTT.TopicPrefix).Observations
		ch, err := source.MQTT(ctx, sub, topic, time.Now)
		if err != nil {
			return err
		}
		obs = ch
		log.Info("reading observations", "source", "mqtt", "topic", topic)
	default:
		obs = source.NDJSON(ctx, os.Stdin, time.Now)
		log.Info("reading observations", "source", "stdin")
	}

	engine := logic.NewEngine(cfg.EngineTuning())
	c := client.New(cfg.Engine.Server, client.WithTimeout(cfg.Engine.SubmitTimeout))
	resumeEngine(ctx, engine, c, cfg.Engine.SubmitTimeout, time.Now(), log)

	var tick <-chan time.Time
	if cfg.Engine.ReassertInterval > 0 {
		ticker := time.NewTicker(reassertCheckEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	tuning := engine.Config()
	log.Info("engine started", "server", cfg.Engine.Server, "on_threshold", tuning.OnThreshold,
		"frames_to_on", tuning.FramesToOn, "off_grace", tuning.OffGrace,
		"reassert_interval", cfg.Engine.ReassertInterval)

	return runDetectLoop(ctx, engine, obs, c, detectLoopConfig{
		submitTimeout: cfg.Engine.SubmitTimeout,
		reassert:      cfg.Engine.ReassertInterval,
		tick:          tick,
		now:           time.Now,
		log:           log,
	})
}

// desiredReader returns the coordinator's current desired state.
type desiredReader interface {
	ReadDesired(ctx context.Context) (logic.State, error)
}

// resumeEngine seeds the engine with the state the coordinator holds so a
// restarted detector can still turn the fan off. On error the engine stays OFF.
func resumeEngine(ctx context.Context, engine *logic.Engine, r desiredReader, timeout time.Duration, now time.Time, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	desired, err := r.ReadDesired(rctx)
	if err != nil {
		log.Warn("could not read desired state, starting off", "error", err)
		return
	}
	engine.Resume(desired, now)
	log.Info("resumed engine", "desired", desired)
}

// submitter delivers a state to the coordinator and returns the accepted value.
type submitter interface {
	Submit(ctx context.Context, desired logic.State, detected bool) (logic.State, error)
}

type detectLoopConfig struct {
	submitTimeout time.Duration
	reassert      time.Duration
	tick          <-chan time.Time
	now           func() time.Time
	log           *slog.Logger
}

// runDetectLoop feeds observations to the engine in arrival order and
// submits every transition. It returns when ctx is done or the observation
// channel is closed.
func runDetectLoop(ctx context.Context, engine *logic.Engine, obs <-chan logic.Observation, sub submitter, lc detectLoopConfig) error {
	deliver := func(s *logic.Submission) {
		kind := "transition"
		if s.Reassert {
			kind = "reassert"
		}
		lc.log.Info(kind, "desired", s.Desired, "detected", s.Detected, "confidence", s.Confidence)

		sctx, cancel := context.WithTimeout(ctx, lc.submitTimeout)
		defer cancel()
		accepted, err := sub.Submit(sctx, s.Desired, s.Detected)
		if err != nil {
			engine.MarkUndelivered(lc.now())
			lc.log.Warn("submission failed, continuing", "desired", s.Desired, "error", err)
			return
		}
		if accepted != s.Desired {
			lc.log.Warn("coordinator accepted a different state", "sent", s.Desired, "accepted", accepted)
		}
		engine.Acknowledge(accepted)
	}

	for {
		select {
		case <-ctx.Done():
			logSummary(engine, lc.log, "stopped")
			return nil

		case o, ok := <-obs:
			if !ok {
				logSummary(engine, lc.log, "end of input")
				return nil
			}
			if s := engine.Process(o); s != nil {
				deliver(s)
			}

		case <-lc.tick:
			if s := engine.CheckReassert(lc.now(), lc.reassert); s != nil {
				deliver(s)
			}
		}
	}
}

func logSummary(engine *logic.Engine, log *slog.Logger, why string) {
	counts := engine.Counts()
	log.Info(fmt.Sprintf("engine %s", why), "state", engine.CurrentState(),
		"on_transitions", counts.On, "off_transitions", counts.Off, "undelivered", engine.Undelivered())
}
