package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken         string  `yaml:"telegram_token"`
	ChatID                int64   `yaml:"chat_id"`
	HomeFeedTime          string  `yaml:"home_feed_time"`
	Timezone              string  `yaml:"timezone"`
	FeedSlots             int     `yaml:"feed_slots"`
	LikeBonus             float64 `yaml:"like_bonus"`
	FeedbackPromptDelayMS int     `yaml:"feedback_prompt_delay_ms"`
	FetchTimeoutSecs      int     `yaml:"fetch_timeout_secs"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	RequestBurst          int     `yaml:"request_burst"`
	BreakerFailures       uint32  `yaml:"breaker_failures"`
	BreakerTimeoutSecs    int     `yaml:"breaker_timeout_secs"`
	DictionaryURL         string  `yaml:"dictionary_url"`
	FunFactURL            string  `yaml:"fun_fact_url"`
	DateFactURL           string  `yaml:"date_fact_url"`
	CardRetentionDays     int     `yaml:"card_retention_days"`
	HTTPAddr              string  `yaml:"http_addr"`
	DBPath                string  `yaml:"db_path"`
	LogLevel              string  `yaml:"log_level"`
}

const maxFeedSlots = 20

// homeFeedTimeRegex validates HH:MM format with proper ranges.
var homeFeedTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("FINDER_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// FetchTimeout returns the per-request provider timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// BreakerTimeout returns how long an open provider breaker stays open.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSecs) * time.Second
}

// FeedbackPromptDelay returns the pause before a feedback prompt is shown.
func (c *Config) FeedbackPromptDelay() time.Duration {
	return time.Duration(c.FeedbackPromptDelayMS) * time.Millisecond
}

// CardRetention returns how long delivered cards are kept.
func (c *Config) CardRetention() time.Duration {
	return time.Duration(c.CardRetentionDays) * 24 * time.Hour
}

// SlogLevel maps log_level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HomeFeedTime == "" {
		cfg.HomeFeedTime = "09:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.FeedSlots == 0 {
		cfg.FeedSlots = 5
	}
	if cfg.LikeBonus == 0 {
		cfg.LikeBonus = 5
	}
	if cfg.FeedbackPromptDelayMS == 0 {
		cfg.FeedbackPromptDelayMS = 500
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 10
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.RequestBurst == 0 {
		cfg.RequestBurst = 5
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeoutSecs == 0 {
		cfg.BreakerTimeoutSecs = 30
	}
	if cfg.CardRetentionDays == 0 {
		cfg.CardRetentionDays = 30
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./finder.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if dbPath := os.Getenv("FINDER_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if token := os.Getenv("FINDER_TELEGRAM_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	// "off" disables the HTTP API.
	if addr := os.Getenv("FINDER_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if cfg.HTTPAddr == "off" {
		cfg.HTTPAddr = ""
	}
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" && cfg.HTTPAddr == "" {
		return fmt.Errorf("telegram_token or http_addr is required")
	}
	if !homeFeedTimeRegex.MatchString(cfg.HomeFeedTime) {
		return fmt.Errorf("home_feed_time must be in HH:MM format (00:00-23:59), got %q", cfg.HomeFeedTime)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.FeedSlots < 1 || cfg.FeedSlots > maxFeedSlots {
		return fmt.Errorf("feed_slots must be between 1 and %d, got %d", maxFeedSlots, cfg.FeedSlots)
	}
	if cfg.LikeBonus < 0 {
		return fmt.Errorf("like_bonus must not be negative, got %v", cfg.LikeBonus)
	}
	if cfg.RequestsPerSecond < 0 || cfg.RequestBurst < 0 {
		return fmt.Errorf("requests_per_second and request_burst must not be negative")
	}
	return nil
}
