package config

import (
	"os"
	"time"

	"learnquest/internal/srs"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	SRS struct {
		RetryInterval string   `yaml:"retry_interval"`
		Intervals     []string `yaml:"intervals"`
	} `yaml:"srs"`
	Suggestions struct {
		Limit int `yaml:"limit"`
	} `yaml:"suggestions"`
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

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// SRSConfig builds the review schedule. Unparseable or non-increasing interval
// lists fall back to the default schedule as a whole.
func (c Config) SRSConfig() srs.Config {
	def := srs.DefaultConfig()
	out := srs.Config{
		RetryInterval: TTLDuration(c.SRS.RetryInterval, def.RetryInterval),
		Intervals:     def.Intervals,
	}
	if len(c.SRS.Intervals) == 0 {
		return out
	}
	intervals := make([]time.Duration, 0, len(c.SRS.Intervals))
	for _, raw := range c.SRS.Intervals {
		d := TTLDuration(raw, 0)
		if d <= 0 || (len(intervals) > 0 && d <= intervals[len(intervals)-1]) {
			return out
		}
		intervals = append(intervals, d)
	}
	out.Intervals = intervals
	return out
}
