// Package config loads the engine configuration from YAML or JSON files with
// defaults and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// Config is the main configuration structure.
type Config struct {
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`
	Models  ModelsConfig  `yaml:"models" json:"models"`
	Sources SourcesConfig `yaml:"sources" json:"sources"`
	NATS    NATSConfig    `yaml:"nats" json:"nats"`
}

// ScoringConfig contains scoring run settings.
type ScoringConfig struct {
	// HorizonDays is the forecast window for CLV projection.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// DiscountRate is the annual rate applied to projected value;
	// zero disables discounting.
	DiscountRate float64 `yaml:"discount_rate" json:"discount_rate"`

	// RiskThresholds are the LOW/MEDIUM/HIGH cut-points applied to the
	// calibrated churn probability.
	RiskThresholds domain.RiskThresholds `yaml:"risk_thresholds" json:"risk_thresholds"`

	// Workers and QueueSize size the batch worker pool.
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// RealtimeBudgetMS is the latency budget for on-demand scoring.
	RealtimeBudgetMS int `yaml:"realtime_budget_ms" json:"realtime_budget_ms"`

	// FeatureFreshnessSeconds is how long a cached feature vector stays
	// valid for on-demand scoring.
	FeatureFreshnessSeconds int `yaml:"feature_freshness_seconds" json:"feature_freshness_seconds"`
}

// ModelsConfig contains model registry settings.
type ModelsConfig struct {
	// StoreDir is where artifact files are persisted; empty keeps the
	// registry memory-only.
	StoreDir string `yaml:"store_dir" json:"store_dir"`

	// Version pins scoring to a specific model version; empty follows
	// the latest active version.
	Version string `yaml:"version" json:"version"`
}

// SourcesConfig selects where transaction records come from.
type SourcesConfig struct {
	// JSONLPath reads newline-delimited JSON transaction records.
	JSONLPath string `yaml:"jsonl_path" json:"jsonl_path"`

	// MySQLDSN reads transaction records from a MySQL events table.
	MySQLDSN   string `yaml:"mysql_dsn" json:"mysql_dsn"`
	MySQLTable string `yaml:"mysql_table" json:"mysql_table"`

	// LabelsPath reads labeled churn outcomes for classifier training.
	LabelsPath string `yaml:"labels_path" json:"labels_path"`
}

// NATSConfig configures the prediction result publisher.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// LoadConfig loads configuration from a file, applying defaults for missing
// values. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".json":
			err = json.Unmarshal(data, config)
		default:
			err = yaml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Scoring.HorizonDays == 0 {
		c.Scoring.HorizonDays = 180
	}
	if c.Scoring.RiskThresholds.Medium == 0 && c.Scoring.RiskThresholds.High == 0 {
		c.Scoring.RiskThresholds = domain.DefaultRiskThresholds()
	}
	if c.Scoring.Workers == 0 {
		c.Scoring.Workers = 8
	}
	if c.Scoring.QueueSize == 0 {
		c.Scoring.QueueSize = 1024
	}
	if c.Scoring.RealtimeBudgetMS == 0 {
		c.Scoring.RealtimeBudgetMS = 250
	}
	if c.Scoring.FeatureFreshnessSeconds == 0 {
		c.Scoring.FeatureFreshnessSeconds = 3600
	}
	if c.Sources.MySQLTable == "" {
		c.Sources.MySQLTable = "customer_events"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "lifeline.predictions"
	}
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.Scoring.HorizonDays <= 0 {
		return fmt.Errorf("config: horizon_days must be positive, got: %d", c.Scoring.HorizonDays)
	}

	if c.Scoring.DiscountRate < 0 {
		return fmt.Errorf("config: discount_rate must be non-negative, got: %f", c.Scoring.DiscountRate)
	}

	if err := c.Scoring.RiskThresholds.Validate(); err != nil {
		return fmt.Errorf("config: risk_thresholds: %w", err)
	}

	if c.Scoring.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got: %d", c.Scoring.Workers)
	}

	if c.Scoring.RealtimeBudgetMS <= 0 {
		return fmt.Errorf("config: realtime_budget_ms must be positive, got: %d", c.Scoring.RealtimeBudgetMS)
	}

	return nil
}
