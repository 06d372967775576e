package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Backend struct {
		BaseURL string `yaml:"baseUrl"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Catalog struct {
		TTL string `yaml:"ttl"`
	} `yaml:"catalog"`
	Engagement Engagement `yaml:"engagement"`
}

// Engagement tunes ad sessions. Zero values fall back to the defaults.
type Engagement struct {
	RewardProbability *float64 `yaml:"rewardProbability"`
	SkipMinSeconds    int      `yaml:"skipMinSeconds"`
	SkipMaxSeconds    int      `yaml:"skipMaxSeconds"`
	TickInterval      string   `yaml:"tickInterval"`
	QuizTimeout       string   `yaml:"quizTimeout"`
	SuccessHold       string   `yaml:"successHold"`
	FailureHold       string   `yaml:"failureHold"`
	LedgerTimeout     string   `yaml:"ledgerTimeout"`
	EventTimeout      string   `yaml:"eventTimeout"`
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
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings a session could not run with.
func (c Config) Validate() error {
	e := c.Engagement
	if p := e.RewardProbability; p != nil && (*p < 0 || *p > 1) {
		return errors.New("engagement.rewardProbability must be within [0,1]")
	}
	if e.SkipMinSeconds < 0 || e.SkipMaxSeconds < 0 {
		return errors.New("engagement skip bounds must not be negative")
	}
	if e.SkipMaxSeconds != 0 && e.SkipMaxSeconds < e.SkipMinSeconds {
		return errors.New("engagement.skipMaxSeconds must not be below skipMinSeconds")
	}
	for name, raw := range map[string]string{
		"backend.timeout":          c.Backend.Timeout,
		"redis.ttl":                c.Redis.TTL,
		"catalog.ttl":              c.Catalog.TTL,
		"engagement.tickInterval":  e.TickInterval,
		"engagement.quizTimeout":   e.QuizTimeout,
		"engagement.successHold":   e.SuccessHold,
		"engagement.failureHold":   e.FailureHold,
		"engagement.ledgerTimeout": e.LedgerTimeout,
		"engagement.eventTimeout":  e.EventTimeout,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, raw)
		}
	}
	return nil
}

// Duration parses a duration string or returns the fallback if empty.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
