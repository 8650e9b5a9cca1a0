// Package config loads the revpipe configuration from a YAML file with
// .env and environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the backbone processes.
type Config struct {
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
	Mongo  Mongo  `yaml:"mongo"`
	Redis  Redis  `yaml:"redis"`
	Odoo   Odoo   `yaml:"odoo"`
	Sync   Sync   `yaml:"sync"`
	Views  Views  `yaml:"views"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Log holds logging configuration.
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Mongo holds document-store configuration.
type Mongo struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Redis holds lock-backend configuration. Leave Addr empty to fall back to
// Mongo lease documents for locking.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Odoo holds remote-source connection settings.
type Odoo struct {
	URL            string `yaml:"url"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PageSize       int    `yaml:"page_size"`
}

// Timeout returns the per-request timeout as a duration.
func (c Odoo) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Sync holds sync-pipeline settings.
type Sync struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	DeadlineMinutes int `yaml:"deadline_minutes"`
	Workers         int `yaml:"workers"`
}

// Interval returns the scheduled-sync interval as a duration.
func (c Sync) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Deadline returns the outer job deadline as a duration.
func (c Sync) Deadline() time.Duration {
	return time.Duration(c.DeadlineMinutes) * time.Minute
}

// Views holds projection freshness settings.
type Views struct {
	FreshnessSeconds int `yaml:"freshness_seconds"`
	ExpirySeconds    int `yaml:"expiry_seconds"`
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars on the deployment host. A missing config
// file is not an error; defaults plus env vars are enough to run.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) && !isNotExistWrapped(err) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ODOO_URL"); v != "" {
		cfg.Odoo.URL = v
	}
	if v := os.Getenv("ODOO_DB"); v != "" {
		cfg.Odoo.Database = v
	}
	if v := os.Getenv("ODOO_USERNAME"); v != "" {
		cfg.Odoo.Username = v
	}
	if v := os.Getenv("ODOO_API_KEY"); v != "" {
		cfg.Odoo.APIKey = v
	}

	return cfg, nil
}

func isNotExistWrapped(err error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if os.IsNotExist(err) {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "revpipe"
	}
	if c.Odoo.TimeoutSeconds == 0 {
		c.Odoo.TimeoutSeconds = 30
	}
	if c.Odoo.PageSize == 0 {
		c.Odoo.PageSize = 200
	}
	if c.Sync.IntervalMinutes == 0 {
		c.Sync.IntervalMinutes = 15
	}
	if c.Sync.DeadlineMinutes == 0 {
		c.Sync.DeadlineMinutes = 30
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 8
	}
	if c.Views.FreshnessSeconds == 0 {
		c.Views.FreshnessSeconds = 300
	}
	if c.Views.ExpirySeconds == 0 {
		c.Views.ExpirySeconds = 600
	}
}
