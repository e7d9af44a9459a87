// Package config loads smartfan configuration from an optional YAML file
// and SMARTFAN_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/smartfan/internal/logic"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all smartfan configuration.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Engine      EngineConfig      `yaml:"engine"`
	Actuator    ActuatorConfig    `yaml:"actuator"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
}

// CoordinatorConfig holds settings for `smartfan serve`.
type CoordinatorConfig struct {
	Listen      string `yaml:"listen"`
	DB          string `yaml:"db"`
	EventsLimit int    `yaml:"events_limit"`
}

// EngineConfig holds settings for `smartfan detect`.
type EngineConfig struct {
	OnThreshold      float64       `yaml:"on_threshold"`
	FramesToOn       int           `yaml:"frames_to_on"`
	OffGrace         time.Duration `yaml:"off_grace"`
	Server           string        `yaml:"server"`
	SubmitTimeout    time.Duration `yaml:"submit_timeout"`
	ReassertInterval time.Duration `yaml:"reassert_interval"`
	Source           string        `yaml:"source"` // "stdin" or "mqtt"
}

// ActuatorConfig holds settings for `smartfan actuate`.
type ActuatorConfig struct {
	Server    string        `yaml:"server"`
	Poll      time.Duration `yaml:"poll"`
	Timeout   time.Duration `yaml:"timeout"`
	Chip      string        `yaml:"chip"`
	Pin       int           `yaml:"pin"`
	ActiveLow bool          `yaml:"active_low"`
}

// MQTTConfig holds broker settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the stock configuration.
func Default() Config {
	ec := logic.DefaultConfig()
	return Config{
		Coordinator: CoordinatorConfig{
			Listen:      ":8080",
			DB:          "smartfan.db",
			EventsLimit: 50,
		},
		Engine: EngineConfig{
			OnThreshold:      ec.OnThreshold,
			FramesToOn:       ec.FramesToOn,
			OffGrace:         ec.OffGrace,
			Server:           "http://127.0.0.1:8080",
			SubmitTimeout:    3 * time.Second,
			ReassertInterval: 30 * time.Second,
			Source:           "stdin",
		},
		Actuator: ActuatorConfig{
			Server:  "http://127.0.0.1:8080",
			Poll:    2 * time.Second,
			Timeout: 2 * time.Second,
			Chip:    "gpiochip0",
			Pin:     17,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "home/fan",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// non-empty) and then with environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode strictly decodes YAML into cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// EngineTuning returns the decision engine configuration.
func (c Config) EngineTuning() logic.Config {
	return logic.Config{
		OnThreshold: c.Engine.OnThreshold,
		FramesToOn:  c.Engine.FramesToOn,
		OffGrace:    c.Engine.OffGrace,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Engine.OnThreshold < 0 || c.Engine.OnThreshold > 1:
		return fmt.Errorf("%w: engine.on_threshold %v not in [0,1]", ErrInvalid, c.Engine.OnThreshold)
	case c.Engine.FramesToOn < 1:
		return fmt.Errorf("%w: engine.frames_to_on must be >= 1", ErrInvalid)
	case c.Engine.OffGrace < 0:
		return fmt.Errorf("%w: engine.off_grace must be >= 0", ErrInvalid)
	case c.Engine.SubmitTimeout <= 0:
		return fmt.Errorf("%w: engine.submit_timeout must be > 0", ErrInvalid)
	case c.Engine.ReassertInterval < 0:
		return fmt.Errorf("%w: engine.reassert_interval must be >= 0", ErrInvalid)
	case c.Engine.Source != "stdin" && c.Engine.Source != "mqtt":
		return fmt.Errorf("%w: engine.source %q must be stdin or mqtt", ErrInvalid, c.Engine.Source)
	case c.Engine.Source == "mqtt" && c.MQTT.Broker == "":
		return fmt.Errorf("%w: engine.source mqtt requires mqtt.broker", ErrInvalid)
	case c.Coordinator.EventsLimit < 1 || c.Coordinator.EventsLimit > 50:
		return fmt.Errorf("%w: coordinator.events_limit %d not in 1..50", ErrInvalid, c.Coordinator.EventsLimit)
	case c.Actuator.Poll <= 0:
		return fmt.Errorf("%w: actuator.poll must be > 0", ErrInvalid)
	case c.Actuator.Timeout <= 0:
		return fmt.Errorf("%w: actuator.timeout must be > 0", ErrInvalid)
	case c.Actuator.Pin < 0:
		return fmt.Errorf("%w: actuator.pin must be >= 0", ErrInvalid)
	case c.Log.Format != "text" && c.Log.Format != "json":
		return fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format)
	}
	return nil
}

// applyEnv overlays SMARTFAN_* environment variables.
func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"SMARTFAN_LISTEN", &cfg.Coordinator.Listen},
		{"SMARTFAN_DB", &cfg.Coordinator.DB},
		{"SMARTFAN_SERVER", &cfg.Engine.Server},
		{"SMARTFAN_SOURCE", &cfg.Engine.Source},
		{"SMARTFAN_ACTUATOR_SERVER", &cfg.Actuator.Server},
		{"SMARTFAN_MQTT_BROKER", &cfg.MQTT.Broker},
		{"SMARTFAN_MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix},
		{"SMARTFAN_LOG_LEVEL", &cfg.Log.Level},
		{"SMARTFAN_LOG_FORMAT", &cfg.Log.Format},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("SMARTFAN_ON_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SMARTFAN_ON_THRESHOLD: %v", ErrInvalid, err)
		}
		cfg.Engine.OnThreshold = f
	}
	if v := os.Getenv("SMARTFAN_FRAMES_TO_ON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SMARTFAN_FRAMES_TO_ON: %v", ErrInvalid, err)
		}
		cfg.Engine.FramesToOn = n
	}

	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"SMARTFAN_OFF_GRACE", &cfg.Engine.OffGrace},
		{"SMARTFAN_SUBMIT_TIMEOUT", &cfg.Engine.SubmitTimeout},
		{"SMARTFAN_REASSERT_INTERVAL", &cfg.Engine.ReassertInterval},
		{"SMARTFAN_POLL", &cfg.Actuator.Poll},
	}
	for _, d := range durs {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}
