package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Workers int           `yaml:"workers"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Driver  DriverConfig  `yaml:"driver"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type IngestConfig struct {
	// Device is the RPMsg character device, or "sim" for the host
	// simulator.
	Device   string        `yaml:"device"`
	Interval time.Duration `yaml:"interval"`
}

type DriverConfig struct {
	Kind string `yaml:"kind"` // "dummy" is the only host-side controller
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 3
	}
	if c.Ingest.Device == "" {
		c.Ingest.Device = "/dev/ttyRPMSG0"
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = time.Millisecond
	}
	if c.Driver.Kind == "" {
		c.Driver.Kind = "dummy"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.Ingest.Interval < 0 {
		return fmt.Errorf("ingest.interval must be >= 0")
	}
	if c.Driver.Kind != "dummy" {
		return fmt.Errorf("unknown driver kind %q", c.Driver.Kind)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}
