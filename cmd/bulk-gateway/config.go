package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Sternrassler/bulk-request-client/pkg/bulk"
	"github.com/Sternrassler/bulk-request-client/pkg/logging"
)

// Config holds gateway configuration.
type Config struct {
	ListenAddr string

	RedisAddr string
	RedisDB   int

	BaseURL        string
	UserAgent      string
	AuthToken      string
	QuotaThreshold int
	HTTPTimeout    time.Duration
	MaxAttempts    int

	MaxBatchSize int
	MaxRounds    int
	Policy       string
	MaxItems     int
	SessionTTL   time.Duration

	// WaveTimeout bounds one bulk call including its retries. Zero derives
	// it from the client's retry settings.
	WaveTimeout time.Duration

	LogLevel  string
	LogPretty bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		RedisAddr:      "localhost:6379",
		UserAgent:      "bulk-gateway/0.1.0",
		QuotaThreshold: 5,
		HTTPTimeout:    30 * time.Second,
		MaxAttempts:    3,
		MaxBatchSize:   100,
		MaxRounds:      1,
		Policy:         bulk.FailBatch.String(),
		MaxItems:       10000,
		SessionTTL:     24 * time.Hour,
		LogLevel:       "info",
	}
}

// Validate checks the configuration for errors and normalises it.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base-url %q is not an absolute URL", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max-batch-size must be positive")
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max-rounds must be positive")
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max-items must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session-ttl must be positive")
	}
	if c.WaveTimeout < 0 {
		return fmt.Errorf("wave-timeout must not be negative")
	}
	if _, err := bulk.ParseFailurePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	RedisAddr      string `toml:"redis_addr"`
	RedisDB        int    `toml:"redis_db"`
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	AuthToken      string `toml:"auth_token"`
	QuotaThreshold int    `toml:"quota_threshold"`
	HTTPTimeout    string `toml:"http_timeout"`
	MaxAttempts    int    `toml:"max_attempts"`
	MaxBatchSize   int    `toml:"max_batch_size"`
	MaxRounds      int    `toml:"max_rounds"`
	Policy         string `toml:"policy"`
	MaxItems       int    `toml:"max_items"`
	SessionTTL     string `toml:"session_ttl"`
	WaveTimeout    string `toml:"wave_timeout"`
	LogLevel       string `toml:"log_level"`
	LogPretty      *bool  `toml:"log_pretty"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// ApplyFileConfig applies configuration from a file to cfg.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("redis-addr", fc.RedisAddr, &cfg.RedisAddr)
	s.setInt("redis-db", fc.RedisDB, &cfg.RedisDB)
	s.setString("base-url", fc.BaseURL, &cfg.BaseURL)
	s.setString("user-agent", fc.UserAgent, &cfg.UserAgent)
	s.setString("auth-token", fc.AuthToken, &cfg.AuthToken)
	s.setInt("quota-threshold", fc.QuotaThreshold, &cfg.QuotaThreshold)
	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)
	s.setInt("max-batch-size", fc.MaxBatchSize, &cfg.MaxBatchSize)
	s.setInt("max-rounds", fc.MaxRounds, &cfg.MaxRounds)
	s.setString("policy", fc.Policy, &cfg.Policy)
	s.setInt("max-items", fc.MaxItems, &cfg.MaxItems)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("log-pretty", fc.LogPretty, &cfg.LogPretty)

	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("session-ttl", fc.SessionTTL, &cfg.SessionTTL); err != nil {
		return err
	}
	if err := s.setDuration("wave-timeout", fc.WaveTimeout, &cfg.WaveTimeout); err != nil {
		return err
	}

	return nil
}

// ApplyEnvConfig applies BULK_* environment variables to cfg. They override
// the file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("BULK_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("redis-addr", os.Getenv("BULK_REDIS_ADDR"), &cfg.RedisAddr)
	s.setString("base-url", os.Getenv("BULK_BASE_URL"), &cfg.BaseURL)
	s.setString("user-agent", os.Getenv("BULK_USER_AGENT"), &cfg.UserAgent)
	s.setString("auth-token", os.Getenv("BULK_AUTH_TOKEN"), &cfg.AuthToken)
	s.setString("policy", os.Getenv("BULK_POLICY"), &cfg.Policy)
	s.setString("log-level", os.Getenv("BULK_LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("log-pretty", os.Getenv("BULK_LOG_PRETTY"), &cfg.LogPretty)

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"redis-db", "BULK_REDIS_DB", &cfg.RedisDB},
		{"quota-threshold", "BULK_QUOTA_THRESHOLD", &cfg.QuotaThreshold},
		{"max-attempts", "BULK_MAX_ATTEMPTS", &cfg.MaxAttempts},
		{"max-batch-size", "BULK_MAX_BATCH_SIZE", &cfg.MaxBatchSize},
		{"max-rounds", "BULK_MAX_ROUNDS", &cfg.MaxRounds},
		{"max-items", "BULK_MAX_ITEMS", &cfg.MaxItems},
	}
	for _, v := range ints {
		if err := s.setIntFromString(v.flag, os.Getenv(v.env), v.dst); err != nil {
			return fmt.Errorf("%s: %w", v.env, err)
		}
	}

	if err := s.setDuration("timeout", os.Getenv("BULK_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return fmt.Errorf("BULK_TIMEOUT: %w", err)
	}
	if err := s.setDuration("session-ttl", os.Getenv("BULK_SESSION_TTL"), &cfg.SessionTTL); err != nil {
		return fmt.Errorf("BULK_SESSION_TTL: %w", err)
	}
	if err := s.setDuration("wave-timeout", os.Getenv("BULK_WAVE_TIMEOUT"), &cfg.WaveTimeout); err != nil {
		return fmt.Errorf("BULK_WAVE_TIMEOUT: %w", err)
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// configSetter applies values unless the corresponding flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
