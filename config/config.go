package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config carries the daemon settings. Values come from an optional YAML file
// and can be overridden per-key through the environment.
type Config struct {
	Addr            string `yaml:"addr"`
	DatabaseURL     string `yaml:"database_url"`
	MaxContentBytes int64  `yaml:"max_content_bytes"`
	LogLevel        string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Addr:            ":8080",
		MaxContentBytes: 10 * 1024 * 1024,
		LogLevel:        "info",
	}
}

// Load reads path (when non-empty) over the defaults, then applies env
// overrides: GRADESEAL_ADDR, DATABASE_URL, GRADESEAL_MAX_CONTENT,
// GRADESEAL_LOG_LEVEL.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("GRADESEAL_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("GRADESEAL_MAX_CONTENT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: GRADESEAL_MAX_CONTENT must be int: %w", err)
		}
		cfg.MaxContentBytes = n
	}
	if v := os.Getenv("GRADESEAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
