package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lifeline/pkg/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 180, cfg.Scoring.HorizonDays)
	assert.Equal(t, domain.DefaultRiskThresholds(), cfg.Scoring.RiskThresholds)
	assert.Equal(t, 8, cfg.Scoring.Workers)
	assert.Equal(t, 1024, cfg.Scoring.QueueSize)
	assert.Equal(t, 250, cfg.Scoring.RealtimeBudgetMS)
	assert.Equal(t, 3600, cfg.Scoring.FeatureFreshnessSeconds)
	assert.Equal(t, "customer_events", cfg.Sources.MySQLTable)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "lifeline.predictions", cfg.NATS.SubjectPrefix)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
scoring:
  horizon_days: 365
  discount_rate: 0.1
  workers: 4
  risk_thresholds:
    medium: 0.25
    high: 0.75
models:
  store_dir: /var/lib/lifeline/models
sources:
  jsonl_path: /data/events.jsonl
nats:
  enabled: true
  subject_prefix: custom.predictions
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 365, cfg.Scoring.HorizonDays)
	assert.InDelta(t, 0.1, cfg.Scoring.DiscountRate, 1e-9)
	assert.Equal(t, 4, cfg.Scoring.Workers)
	assert.InDelta(t, 0.25, cfg.Scoring.RiskThresholds.Medium, 1e-9)
	assert.InDelta(t, 0.75, cfg.Scoring.RiskThresholds.High, 1e-9)
	assert.Equal(t, "/var/lib/lifeline/models", cfg.Models.StoreDir)
	assert.Equal(t, "/data/events.jsonl", cfg.Sources.JSONLPath)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "custom.predictions", cfg.NATS.SubjectPrefix)

	// Unset values still get defaults.
	assert.Equal(t, 250, cfg.Scoring.RealtimeBudgetMS)
	assert.Equal(t, "customer_events", cfg.Sources.MySQLTable)
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"scoring": {"horizon_days": 90}, "models": {"version": "v7"}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Scoring.HorizonDays)
	assert.Equal(t, "v7", cfg.Models.Version)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring: ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative horizon", func(c *Config) { c.Scoring.HorizonDays = -1 }},
		{"negative discount", func(c *Config) { c.Scoring.DiscountRate = -0.1 }},
		{"inverted thresholds", func(c *Config) {
			c.Scoring.RiskThresholds = domain.RiskThresholds{Medium: 0.8, High: 0.2}
		}},
		{"zero workers", func(c *Config) { c.Scoring.Workers = -2 }},
		{"negative realtime budget", func(c *Config) { c.Scoring.RealtimeBudgetMS = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
