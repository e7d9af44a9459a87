package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartfan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Coordinator.Listen)
	assert.Equal(t, 50, cfg.Coordinator.EventsLimit)
	assert.Equal(t, 0.5, cfg.Engine.OnThreshold)
	assert.Equal(t, 5, cfg.Engine.FramesToOn)
	assert.Equal(t, 8*time.Second, cfg.Engine.OffGrace)
	assert.Equal(t, 3*time.Second, cfg.Engine.SubmitTimeout)
	assert.Equal(t, "stdin", cfg.Engine.Source)
	assert.Equal(t, "home/fan", cfg.MQTT.TopicPrefix)
	assert.Empty(t, cfg.MQTT.Broker)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
coordinator:
  listen: ":9090"
  db: /var/lib/smartfan/fan.db
engine:
  on_threshold: 0.7
  frames_to_on: 3
  off_grace: 12s
  reassert_interval: 0s
mqtt:
  broker: tcp://192.168.1.200:1883
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Coordinator.Listen)
	assert.Equal(t, "/var/lib/smartfan/fan.db", cfg.Coordinator.DB)
	assert.Equal(t, 0.7, cfg.Engine.OnThreshold)
	assert.Equal(t, 3, cfg.Engine.FramesToOn)
	assert.Equal(t, 12*time.Second, cfg.Engine.OffGrace)
	assert.Equal(t, time.Duration(0), cfg.Engine.ReassertInterval)
	assert.Equal(t, "tcp://192.168.1.200:1883", cfg.MQTT.Broker)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Coordinator.EventsLimit)
	assert.Equal(t, 2*time.Second, cfg.Actuator.Poll)

	tuning := cfg.EngineTuning()
	assert.Equal(t, 3, tuning.FramesToOn)
	assert.Equal(t, 12*time.Second, tuning.OffGrace)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "engine:\n  frames_to_onn: 3\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SMARTFAN_LISTEN", ":7000")
	t.Setenv("SMARTFAN_ON_THRESHOLD", "0.65")
	t.Setenv("SMARTFAN_FRAMES_TO_ON", "7")
	t.Setenv("SMARTFAN_OFF_GRACE", "20s")
	t.Setenv("SMARTFAN_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load(writeFile(t, "coordinator:\n  listen: \":9090\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Coordinator.Listen, "env beats file")
	assert.Equal(t, 0.65, cfg.Engine.OnThreshold)
	assert.Equal(t, 7, cfg.Engine.FramesToOn)
	assert.Equal(t, 20*time.Second, cfg.Engine.OffGrace)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestEnvBadValues(t *testing.T) {
	for key, val := range map[string]string{
		"SMARTFAN_ON_THRESHOLD": "high",
		"SMARTFAN_FRAMES_TO_ON": "five",
		"SMARTFAN_OFF_GRACE":    "8 seconds",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load("")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Engine.OnThreshold = 1.5 }},
		{"threshold negative", func(c *Config) { c.Engine.OnThreshold = -0.1 }},
		{"zero frames", func(c *Config) { c.Engine.FramesToOn = 0 }},
		{"negative grace", func(c *Config) { c.Engine.OffGrace = -time.Second }},
		{"zero submit timeout", func(c *Config) { c.Engine.SubmitTimeout = 0 }},
		{"negative reassert", func(c *Config) { c.Engine.ReassertInterval = -time.Second }},
		{"unknown source", func(c *Config) { c.Engine.Source = "camera" }},
		{"mqtt source without broker", func(c *Config) { c.Engine.Source = "mqtt" }},
		{"events limit too big", func(c *Config) { c.Coordinator.EventsLimit = 51 }},
		{"events limit zero", func(c *Config) { c.Coordinator.EventsLimit = 0 }},
		{"zero poll", func(c *Config) { c.Actuator.Poll = 0 }},
		{"zero actuator timeout", func(c *Config) { c.Actuator.Timeout = 0 }},
		{"negative pin", func(c *Config) { c.Actuator.Pin = -1 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	assert.NoError(t, Default().Validate())
}
