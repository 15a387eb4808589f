package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`

	RateLimits RateLimits `yaml:"rate_limits"`
	Feed       Feed       `yaml:"feed"`
}

type RateLimits struct {
	PostWindowSeconds int `yaml:"post_window_seconds"`
	PostMax           int `yaml:"post_max"`
}

type Feed struct {
	SubscriberQueue int `yaml:"subscriber_queue"`
}

func Defaults() Config {
	return Config{
		Addr:    ":8080",
		DataDir: "./data",
		RateLimits: RateLimits{
			PostWindowSeconds: 60,
			PostMax:           20,
		},
		Feed: Feed{
			SubscriberQueue: 64,
		},
	}
}

// Load reads the server config. An empty path yields defaults; a
// present file overrides them field by field.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join(c.DataDir, "board.db")
	}
	if c.Feed.SubscriberQueue <= 0 {
		c.Feed.SubscriberQueue = 64
	}
}

func (c *Config) Validate() error {
	if c.RateLimits.PostMax < 0 {
		return fmt.Errorf("rate_limits.post_max must not be negative")
	}
	if c.RateLimits.PostWindowSeconds < 0 {
		return fmt.Errorf("rate_limits.post_window_seconds must not be negative")
	}
	if c.RateLimits.PostMax > 0 && c.RateLimits.PostWindowSeconds == 0 {
		return fmt.Errorf("rate_limits.post_window_seconds required when post_max is set")
	}
	return nil
}
