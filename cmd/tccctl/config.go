package main

import (
	"fmt"
	"os"
	"time"

	"github.com/couchbaselabs/gotcc/internal/logger"
	"github.com/couchbaselabs/gotcc/internal/telemetry"
	"github.com/goccy/go-yaml"
)

// fileConfig is the layout of the --config file.
type fileConfig struct {
	// DB is the path of the bolt database holding the transaction records.
	DB string `yaml:"db"`

	// MaxRetryCount must match the coordinator's setting; records retried
	// more often than this are reported as abandoned.
	MaxRetryCount int `yaml:"max_retry_count"`

	// RecoverDuration must match the coordinator's setting; records not
	// modified for this long are reported as stale.
	RecoverDuration time.Duration `yaml:"recover_duration"`

	Log       logger.Config    `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	Serve struct {
		Listen   string        `yaml:"listen"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"serve"`
}

func defaultFileConfig() *fileConfig {
	cfg := &fileConfig{
		DB:              "tcc.db",
		MaxRetryCount:   30,
		RecoverDuration: 120 * time.Second,
		Log: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Telemetry: telemetry.Config{
			ServiceName: "tccctl",
		},
	}
	cfg.Serve.Listen = ":9464"
	cfg.Serve.Interval = 30 * time.Second
	return cfg
}

// loadFileConfig reads path over the defaults.  An empty path returns the
// defaults.
func loadFileConfig(path string) (*fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = 30
	}
	if cfg.RecoverDuration <= 0 {
		cfg.RecoverDuration = 120 * time.Second
	}
	if cfg.Serve.Interval <= 0 {
		cfg.Serve.Interval = 30 * time.Second
	}
	return cfg, nil
}
