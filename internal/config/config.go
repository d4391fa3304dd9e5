// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type AdminConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PayPalConfig struct {
	ClientID string `yaml:"client_id"`
	Secret   string `yaml:"secret"`
	Sandbox  bool   `yaml:"sandbox"`
}

type SweepConfig struct {
	FastInterval time.Duration `yaml:"fast_interval"` // auto-capture pass
	FastMaxAge   time.Duration `yaml:"fast_max_age"`  // pending older than this expires
	SlowInterval time.Duration `yaml:"slow_interval"` // cleanup + orphan recovery pass
	SlowMaxAge   time.Duration `yaml:"slow_max_age"`
	Batch        int           `yaml:"batch"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	PayPal   PayPalConfig   `yaml:"paypal"`
	Sweep    SweepConfig    `yaml:"sweep"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	if cfg.Sweep.FastInterval <= 0 {
		cfg.Sweep.FastInterval = 5 * time.Minute
	}
	if cfg.Sweep.FastMaxAge <= 0 {
		cfg.Sweep.FastMaxAge = 24 * time.Hour
	}
	if cfg.Sweep.SlowInterval <= 0 {
		cfg.Sweep.SlowInterval = 6 * time.Hour
	}
	if cfg.Sweep.SlowMaxAge <= 0 {
		cfg.Sweep.SlowMaxAge = 7 * 24 * time.Hour
	}
	if cfg.Sweep.Batch <= 0 {
		cfg.Sweep.Batch = 50
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.PayPal.ClientID == "" || cfg.PayPal.Secret == "" {
		return nil, errors.New("paypal.client_id and paypal.secret are required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
