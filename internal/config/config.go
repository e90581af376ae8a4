// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	DB        DBConfig        `mapstructure:"db"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs session execution and the fetch provider.
type CrawlerConfig struct {
	// Provider selects the fetcher: "serp", "headless", or "demo".
	Provider              string `mapstructure:"provider"`
	SearchBaseURL         string `mapstructure:"search_base_url"`
	UserAgent             string `mapstructure:"user_agent"`
	MaxResultsDefault     int    `mapstructure:"max_results_default"`
	MaxResultsCeiling     int    `mapstructure:"max_results_ceiling"`
	MaxConcurrentSessions int    `mapstructure:"max_concurrent_sessions"`
	GlobalDedup           bool   `mapstructure:"global_dedup"`
	FetchTimeoutSeconds   int    `mapstructure:"fetch_timeout_seconds"`
}

// RateLimitConfig tunes the per-domain delay controller.
type RateLimitConfig struct {
	MinDelayMs            int     `mapstructure:"min_delay_ms"`
	MaxDelayMs            int     `mapstructure:"max_delay_ms"`
	BackoffCeilingSeconds int     `mapstructure:"backoff_ceiling_seconds"`
	SuccessReset          int     `mapstructure:"success_reset"`
	DomainRPS             float64 `mapstructure:"domain_rps"`
}

// HeadlessConfig configures the browser-backed fetcher.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls the result store provider.
type DBConfig struct {
	// Provider is "postgres" or "memory".
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// SMTPConfig holds delivery credentials. An empty host selects the noop
// sender.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// ReportConfig sets report delivery defaults.
type ReportConfig struct {
	DefaultRecipient string `mapstructure:"default_recipient"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.provider", "serp")
	v.SetDefault("crawler.search_base_url", "https://www.google.com/search")
	v.SetDefault("crawler.user_agent", "serp-reporter-bot/0.1")
	v.SetDefault("crawler.max_results_default", 10)
	v.SetDefault("crawler.max_results_ceiling", 100)
	v.SetDefault("crawler.max_concurrent_sessions", 3)
	v.SetDefault("crawler.global_dedup", false)
	v.SetDefault("crawler.fetch_timeout_seconds", 15)
	v.SetDefault("rate_limit.min_delay_ms", 2000)
	v.SetDefault("rate_limit.max_delay_ms", 6000)
	v.SetDefault("rate_limit.backoff_ceiling_seconds", 120)
	v.SetDefault("rate_limit.success_reset", 3)
	v.SetDefault("rate_limit.domain_rps", 0)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from_name", "SERP Reporter")
	v.SetDefault("smtp.use_tls", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Crawler.Provider {
	case "serp", "headless", "demo":
	default:
		return fmt.Errorf("crawler.provider must be serp, headless, or demo")
	}
	if c.Crawler.MaxResultsDefault <= 0 {
		return fmt.Errorf("crawler.max_results_default must be > 0")
	}
	if c.Crawler.MaxResultsCeiling < c.Crawler.MaxResultsDefault {
		return fmt.Errorf("crawler.max_results_ceiling must be >= crawler.max_results_default")
	}
	if c.Crawler.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("crawler.max_concurrent_sessions must be > 0")
	}
	if c.RateLimit.MinDelayMs <= 0 {
		return fmt.Errorf("rate_limit.min_delay_ms must be > 0")
	}
	if c.RateLimit.MaxDelayMs < c.RateLimit.MinDelayMs {
		return fmt.Errorf("rate_limit.max_delay_ms must be >= rate_limit.min_delay_ms")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.provider is postgres")
		}
	default:
		return fmt.Errorf("db.provider must be postgres or memory")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth.enabled is true")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	return nil
}

// FetchTimeout returns the fetch timeout as a duration.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// MinDelay returns the minimum jitter delay as a duration.
func (c RateLimitConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// MaxDelay returns the maximum jitter delay as a duration.
func (c RateLimitConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// BackoffCeiling returns the backoff ceiling as a duration.
func (c RateLimitConfig) BackoffCeiling() time.Duration {
	return time.Duration(c.BackoffCeilingSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout as a duration.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}
