package config

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/leadscout/internal/model"
)

// Config is the root configuration for every leadscout process.
type Config struct {
	Store     StoreConfig
	Queue     QueueConfig
	Schedule  ScheduleConfig
	Sources   []SourceConfig
	Probe     ProbeConfig
	AI        AIConfig
	Profiles  ProfilesConfig
	S3        S3Config
	Scoring   ScoringConfig
	Email     EmailConfig
	Alerts    AlertsConfig
	Report    ReportConfig
	Retention RetentionConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Workers   WorkersConfig
}

// StoreConfig selects the lead and settings database.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// QueueConfig selects the durable channel between stages.
type QueueConfig struct {
	Driver       string // "memory", "redis" or "s3"
	MaxAttempts  int
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	Consumer     string
	Bucket       string // s3 driver
	PollInterval time.Duration
	LeaseTTL     time.Duration // s3 driver: how long a consumer's claim on a message lasts
	// RetryDelay is the hold-back before the first redelivery; it doubles per
	// attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// ScheduleConfig holds the cron specs for the two daily triggers.
type ScheduleConfig struct {
	Collect    string
	Notify     string
	Timezone   string
	RunOnStart bool
}

// SourceConfig describes one job board registered under a platform.
type SourceConfig struct {
	Platform   string `yaml:"platform"` // e.g. "LinkedIn", "Greenhouse"
	Name       string `yaml:"name"`
	Type       string `yaml:"type"` // "greenhouse", "lever", "ashby", "gem" or "feed"
	BoardToken string `yaml:"board_token"`
	URL        string `yaml:"url"`
	Enabled    bool   `yaml:"enabled"`
}

// ProbeConfig controls candidate URL validation.
type ProbeConfig struct {
	Timeout      time.Duration
	Concurrency  int
	PerHostDelay time.Duration
}

// AIConfig controls the enrichment provider. When disabled, scoring falls back to keyword overlap.
type AIConfig struct {
	Enabled          bool
	BaseURL          string // defaults to https://api.openai.com/v1
	Model            string
	APIKey           string // expanded from env var by Load
	MaxTokens        int
	Timeout          time.Duration
	FailureThreshold uint
	FailureWindow    uint
	OpenDelay        time.Duration
}

// ProfilesConfig says where profile summaries live.
type ProfilesConfig struct {
	Driver string `yaml:"driver"` // "dir" or "s3"
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// S3Config is the object storage endpoint shared by the s3 queue and profile store.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// ScoringConfig picks the relevance policy.
type ScoringConfig struct {
	Policy   string  `yaml:"policy"` // "blend", "ai" or "keywords"
	AIWeight float64 `yaml:"ai_weight"`
}

// EmailConfig controls report delivery.
type EmailConfig struct {
	Driver     string // "smtp" or "log"
	Sender     string
	FromName   string
	Host       string
	Port       int
	User       string
	Password   string
	DisableTLS bool
	Timeout    time.Duration
}

// AlertsConfig controls where dead letters are reported.
type AlertsConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

// ReportConfig holds report rendering defaults.
type ReportConfig struct {
	DefaultLanguage string `yaml:"default_language"`
}

// RetentionConfig bounds how long leads are kept.
type RetentionConfig struct {
	MaxAge time.Duration // zero keeps leads forever
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RateLimitConfig controls per-platform pacing of board fetches.
type RateLimitConfig struct {
	MinDelay          time.Duration
	PlatformOverrides map[string]time.Duration
}

// MinDelayFor returns the configured delay for the given platform, falling back to MinDelay.
func (r RateLimitConfig) MinDelayFor(platform string) time.Duration {
	if d, ok := r.PlatformOverrides[model.NormalizePlatform(platform)]; ok {
		return d
	}
	return r.MinDelay
}

// RetryConfig bounds retries of board fetches.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// WorkersConfig sets consume loops per stage.
type WorkersConfig struct {
	Collect int `yaml:"collect"`
	Analyze int `yaml:"analyze"`
	Notify  int `yaml:"notify"`
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	Store     StoreConfig        `yaml:"store"`
	Queue     rawQueueConfig     `yaml:"queue"`
	Schedule  rawScheduleConfig  `yaml:"schedule"`
	Sources   []SourceConfig     `yaml:"sources"`
	Probe     rawProbeConfig     `yaml:"probe"`
	AI        rawAIConfig        `yaml:"ai"`
	Profiles  ProfilesConfig     `yaml:"profiles"`
	S3        S3Config           `yaml:"s3"`
	Scoring   ScoringConfig      `yaml:"scoring"`
	Email     rawEmailConfig     `yaml:"email"`
	Alerts    AlertsConfig       `yaml:"alerts"`
	Report    ReportConfig       `yaml:"report"`
	Retention rawRetention       `yaml:"retention"`
	Metrics   MetricsConfig      `yaml:"metrics"`
	RateLimit rawRateLimitConfig `yaml:"rate_limit"`
	Retry     rawRetryConfig     `yaml:"retry"`
	Workers   WorkersConfig      `yaml:"workers"`
}

type rawQueueConfig struct {
	Driver       string `yaml:"driver"`
	MaxAttempts  int    `yaml:"max_attempts"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisPass    string `yaml:"redis_password"`
	RedisDB      int    `yaml:"redis_db"`
	Consumer     string `yaml:"consumer"`
	Bucket       string `yaml:"bucket"`
	PollInterval string `yaml:"poll_interval"`
	LeaseTTL     string `yaml:"lease_ttl"`
	RetryDelay   string `yaml:"retry_delay"`
	MaxRetry     string `yaml:"max_retry_delay"`
}

type rawScheduleConfig struct {
	Collect    string `yaml:"collect"`
	Notify     string `yaml:"notify"`
	Timezone   string `yaml:"timezone"`
	RunOnStart bool   `yaml:"run_on_start"`
}

type rawProbeConfig struct {
	Timeout      string `yaml:"timeout"`
	Concurrency  int    `yaml:"concurrency"`
	PerHostDelay string `yaml:"per_host_delay"`
}

type rawAIConfig struct {
	Enabled          bool   `yaml:"enabled"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"api_key"`
	MaxTokens        int    `yaml:"max_tokens"`
	Timeout          string `yaml:"timeout"`
	FailureThreshold uint   `yaml:"failure_threshold"`
	FailureWindow    uint   `yaml:"failure_window"`
	OpenDelay        string `yaml:"open_delay"`
}

type rawEmailConfig struct {
	Driver     string `yaml:"driver"`
	Sender     string `yaml:"sender"`
	FromName   string `yaml:"from_name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DisableTLS bool   `yaml:"disable_tls"`
	Timeout    string `yaml:"timeout"`
}

type rawRetention struct {
	MaxAge string `yaml:"max_age"`
}

type rawRateLimitConfig struct {
	MinDelay          string            `yaml:"min_delay"`
	PlatformOverrides map[string]string `yaml:"platform_overrides"`
}

type rawRetryConfig struct {
	MaxRetries *int   `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
// Problems with the content are returned as *model.ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, &model.ConfigError{Msg: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	var d durations

	cfg := &Config{
		Store: raw.Store,
		Queue: QueueConfig{
			Driver:        orDefault(raw.Queue.Driver, "memory"),
			MaxAttempts:   raw.Queue.MaxAttempts,
			RedisAddr:     orDefault(raw.Queue.RedisAddr, "localhost:6379"),
			RedisPass:     raw.Queue.RedisPass,
			RedisDB:       raw.Queue.RedisDB,
			Consumer:      raw.Queue.Consumer,
			Bucket:        raw.Queue.Bucket,
			PollInterval:  d.parse("queue.poll_interval", raw.Queue.PollInterval, 5*time.Second),
			LeaseTTL:      d.parse("queue.lease_ttl", raw.Queue.LeaseTTL, 10*time.Minute),
			RetryDelay:    d.parse("queue.retry_delay", raw.Queue.RetryDelay, 2*time.Second),
			MaxRetryDelay: d.parse("queue.max_retry_delay", raw.Queue.MaxRetry, 5*time.Minute),
		},
		Schedule: ScheduleConfig{
			Collect:    orDefault(raw.Schedule.Collect, "0 6 * * *"),
			Notify:     orDefault(raw.Schedule.Notify, "0 20 * * *"),
			Timezone:   raw.Schedule.Timezone,
			RunOnStart: raw.Schedule.RunOnStart,
		},
		Sources: raw.Sources,
		Probe: ProbeConfig{
			Timeout:      d.parse("probe.timeout", raw.Probe.Timeout, 5*time.Second),
			Concurrency:  raw.Probe.Concurrency,
			PerHostDelay: d.parse("probe.per_host_delay", raw.Probe.PerHostDelay, 0),
		},
		AI: AIConfig{
			Enabled:          raw.AI.Enabled,
			BaseURL:          orDefault(raw.AI.BaseURL, defaultOpenAIBaseURL),
			Model:            raw.AI.Model,
			APIKey:           raw.AI.APIKey,
			MaxTokens:        raw.AI.MaxTokens,
			Timeout:          d.parse("ai.timeout", raw.AI.Timeout, 60*time.Second),
			FailureThreshold: raw.AI.FailureThreshold,
			FailureWindow:    raw.AI.FailureWindow,
			OpenDelay:        d.parse("ai.open_delay", raw.AI.OpenDelay, 30*time.Second),
		},
		Profiles: raw.Profiles,
		S3:       raw.S3,
		Scoring:  raw.Scoring,
		Email: EmailConfig{
			Driver:     orDefault(raw.Email.Driver, "log"),
			Sender:     raw.Email.Sender,
			FromName:   orDefault(raw.Email.FromName, "LeadScout"),
			Host:       raw.Email.Host,
			Port:       raw.Email.Port,
			User:       raw.Email.User,
			Password:   raw.Email.Password,
			DisableTLS: raw.Email.DisableTLS,
			Timeout:    d.parse("email.timeout", raw.Email.Timeout, 30*time.Second),
		},
		Alerts:    raw.Alerts,
		Report:    raw.Report,
		Retention: RetentionConfig{MaxAge: d.parse("retention.max_age", raw.Retention.MaxAge, 720*time.Hour)},
		Metrics:   raw.Metrics,
		RateLimit: RateLimitConfig{
			MinDelay:          d.parse("rate_limit.min_delay", raw.RateLimit.MinDelay, 2*time.Second),
			PlatformOverrides: make(map[string]time.Duration),
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  d.parse("retry.base_delay", raw.Retry.BaseDelay, 2*time.Second),
		},
		Workers: raw.Workers,
	}
	for platform, v := range raw.RateLimit.PlatformOverrides {
		cfg.RateLimit.PlatformOverrides[model.NormalizePlatform(platform)] =
			d.parse(fmt.Sprintf("rate_limit.platform_overrides[%q]", platform), v, 0)
	}
	if raw.Retry.MaxRetries != nil {
		cfg.Retry.MaxRetries = *raw.Retry.MaxRetries
	}
	if d.err != nil {
		return nil, d.err
	}

	cfg.Store.Driver = orDefault(cfg.Store.Driver, "sqlite")
	cfg.Store.Path = orDefault(cfg.Store.Path, "leadscout.db")
	cfg.Profiles.Driver = orDefault(cfg.Profiles.Driver, "dir")
	cfg.Profiles.Dir = orDefault(cfg.Profiles.Dir, "profiles")
	cfg.Profiles.Prefix = orDefault(cfg.Profiles.Prefix, "cv")
	cfg.S3.Region = orDefault(cfg.S3.Region, "us-east-1")
	cfg.Alerts.Type = orDefault(cfg.Alerts.Type, "log")
	cfg.Report.DefaultLanguage = orDefault(cfg.Report.DefaultLanguage, "en")
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durations collects the first parse error so build can stay linear.
type durations struct {
	err error
}

func (d *durations) parse(field, raw string, def time.Duration) time.Duration {
	if raw == "" || d.err != nil {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		d.err = &model.ConfigError{Field: field, Msg: fmt.Sprintf("parse %q: %v", raw, err)}
		return def
	}
	return v
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func invalid(field, format string, args ...any) error {
	return &model.ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Store.DSN == "" {
			return invalid("store.dsn", "required when driver is \"postgres\"")
		}
	default:
		return invalid("store.driver", "unknown driver %q", cfg.Store.Driver)
	}

	switch cfg.Queue.Driver {
	case "memory", "redis":
	case "s3":
		if cfg.Queue.Bucket == "" {
			return invalid("queue.bucket", "required when driver is \"s3\"")
		}
		if cfg.Queue.LeaseTTL <= cfg.AI.Timeout {
			return invalid("queue.lease_ttl", "must exceed ai.timeout (%s) so a slow analysis keeps its claim", cfg.AI.Timeout)
		}
	default:
		return invalid("queue.driver", "unknown driver %q", cfg.Queue.Driver)
	}

	if cfg.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
			return invalid("schedule.timezone", "%v", err)
		}
	}

	enabled := 0
	for i, s := range cfg.Sources {
		if !s.Enabled {
			continue
		}
		enabled++
		field := fmt.Sprintf("sources[%d]", i)
		if s.Platform == "" {
			return invalid(field+".platform", "required")
		}
		switch s.Type {
		case "greenhouse", "lever", "ashby", "gem":
			if s.BoardToken == "" {
				return invalid(field+".board_token", "required for %s boards", s.Type)
			}
		case "feed":
			if s.URL == "" {
				return invalid(field+".url", "required for feed boards")
			}
		default:
			return invalid(field+".type", "unknown type %q", s.Type)
		}
	}
	if enabled == 0 {
		return invalid("sources", "at least one source must be enabled")
	}

	if cfg.Probe.Timeout <= 0 {
		return invalid("probe.timeout", "must be positive, got %v", cfg.Probe.Timeout)
	}

	if cfg.AI.Enabled {
		if cfg.AI.APIKey == "" {
			return invalid("ai.api_key", "required when ai.enabled is true")
		}
		if cfg.AI.Model == "" {
			return invalid("ai.model", "required when ai.enabled is true")
		}
	}

	switch cfg.Profiles.Driver {
	case "dir":
	case "s3":
		if cfg.Profiles.Bucket == "" {
			return invalid("profiles.bucket", "required when driver is \"s3\"")
		}
	default:
		return invalid("profiles.driver", "unknown driver %q", cfg.Profiles.Driver)
	}

	if cfg.Scoring.AIWeight < 0 || cfg.Scoring.AIWeight > 1 {
		return invalid("scoring.ai_weight", "must be between 0 and 1, got %v", cfg.Scoring.AIWeight)
	}

	if cfg.Email.Sender == "" {
		return invalid("email.sender", "required")
	}
	if _, err := mail.ParseAddress(cfg.Email.Sender); err != nil {
		return invalid("email.sender", "%v", err)
	}
	switch cfg.Email.Driver {
	case "log":
	case "smtp":
		if cfg.Email.Host == "" {
			return invalid("email.host", "required when driver is \"smtp\"")
		}
	default:
		return invalid("email.driver", "unknown driver %q", cfg.Email.Driver)
	}

	switch cfg.Alerts.Type {
	case "log":
	case "slack":
		if !strings.HasPrefix(cfg.Alerts.WebhookURL, "https://hooks.slack.com/") {
			return invalid("alerts.webhook_url", "must start with https://hooks.slack.com/")
		}
	default:
		return invalid("alerts.type", "unknown type %q", cfg.Alerts.Type)
	}

	if cfg.Retention.MaxAge < 0 {
		return invalid("retention.max_age", "must not be negative, got %v", cfg.Retention.MaxAge)
	}

	return nil
}
