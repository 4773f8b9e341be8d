// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charannyk06/shadower-analytics/internal/database"
	"github.com/charannyk06/shadower-analytics/internal/detector"
	"github.com/charannyk06/shadower-analytics/internal/processor"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  database.Config           `yaml:"database"`
	Processor processor.Config          `yaml:"processor"`
	Baseline  BaselineConfig            `yaml:"baseline"`
	Alerting  AlertingConfig            `yaml:"alerting"`
	Scoring   detector.NormalizerConfig `yaml:"scoring"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type BaselineConfig struct {
	RetrainInterval time.Duration `yaml:"retrain_interval"`
	RetrainWindow   time.Duration `yaml:"retrain_window"`
	MaxAge          time.Duration `yaml:"max_age"`
	Retention       time.Duration `yaml:"retention"`
}

type AlertingConfig struct {
	Buffer    int     `yaml:"buffer"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	c.Processor.ApplyDefaults()
	if c.Baseline.RetrainInterval == 0 {
		c.Baseline.RetrainInterval = time.Hour
	}
	if c.Baseline.RetrainWindow == 0 {
		c.Baseline.RetrainWindow = 7 * 24 * time.Hour
	}
	if c.Baseline.MaxAge == 0 {
		c.Baseline.MaxAge = 7 * 24 * time.Hour
	}
	if c.Baseline.Retention == 0 {
		c.Baseline.Retention = 30 * 24 * time.Hour
	}
	if c.Alerting.Buffer == 0 {
		c.Alerting.Buffer = 1024
	}
	if c.Alerting.PerSecond == 0 {
		c.Alerting.PerSecond = 10
	}
	if c.Alerting.Burst == 0 {
		c.Alerting.Burst = 20
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return errors.New("config: database host is required")
	}
	if c.Database.Database == "" {
		return errors.New("config: database name is required")
	}
	if c.Processor.Partitions < 0 {
		return errors.New("config: partitions must be non-negative")
	}
	if c.Baseline.RetrainWindow < c.Baseline.RetrainInterval {
		return errors.New("config: retrain window shorter than retrain interval")
	}
	return nil
}

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	LoadFromEnv(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
