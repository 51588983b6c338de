package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Auth struct {
		SignUpURL string `yaml:"signUpUrl"`
		TokenURL  string `yaml:"tokenUrl"`
		APIKey    string `yaml:"apiKey"`
	} `yaml:"auth"`
	Board struct {
		DatabaseURL string `yaml:"databaseUrl"`
	} `yaml:"board"`
	Store struct {
		Path  string `yaml:"path"` // sqlite file; empty with no redis means in-memory
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			TTL      string `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"store"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Display struct {
		Port     string `yaml:"port"`
		Interval string `yaml:"interval"`
	} `yaml:"display"`
	Client struct {
		UserAgent string `yaml:"userAgent"`
	} `yaml:"client"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
