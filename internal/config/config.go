package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port      int `yaml:"port"`       // public API
	AdminPort int `yaml:"admin_port"` // admin API + /metrics
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	KeyID         string `yaml:"key_id"`
	KeySecret     string `yaml:"key_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url"`
	Currency      string `yaml:"currency"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	AdminAPIKey string        `yaml:"admin_api_key"`
}

type FraudConfig struct {
	DailySubmissionCap int `yaml:"daily_submission_cap"` // manual submissions per user per day
	WeeklySignupIPCap  int `yaml:"weekly_signup_ip_cap"` // accounts per IP per rolling week
	RequestsPerMinute  int `yaml:"requests_per_minute"`  // redis limiter on submission endpoints
}

type SubscriptionConfig struct {
	TamperBufferDays   int           `yaml:"tamper_buffer_days"`   // skew tolerance over nominal duration
	TrialCeilingDays   int           `yaml:"trial_ceiling_days"`   // fixed ceiling for trial plans
	FallbackMaxDays    int           `yaml:"fallback_max_days"`    // ceiling for unknown/legacy plan names
	OrderTTL           time.Duration `yaml:"order_ttl"`            // pending order window
	ManualTTL          time.Duration `yaml:"manual_ttl"`           // pending manual submission window
	CustomPlanMinPrice int64         `yaml:"custom_plan_min_price"`
	CustomPlanMaxPrice int64         `yaml:"custom_plan_max_price"`
	// Per-module monthly prices for the computed "custom" plan.
	ModulePrices map[string]int64 `yaml:"module_prices"`
}

type SchedulerConfig struct {
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`   // activation-gap sweep
	StaleOrderInterval time.Duration `yaml:"stale_order_interval"` // aging pending gateway orders
	StaleOrderAfter    time.Duration `yaml:"stale_order_after"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Auth         AuthConfig         `yaml:"auth"`
	Fraud        FraudConfig        `yaml:"fraud"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Notify       NotifyConfig       `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.AdminPort <= 0 {
		cfg.Server.AdminPort = 8081
	}
	if cfg.Gateway.Currency == "" {
		cfg.Gateway.Currency = "INR"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Fraud.DailySubmissionCap <= 0 {
		cfg.Fraud.DailySubmissionCap = 5
	}
	if cfg.Fraud.WeeklySignupIPCap <= 0 {
		cfg.Fraud.WeeklySignupIPCap = 3
	}
	if cfg.Fraud.RequestsPerMinute <= 0 {
		cfg.Fraud.RequestsPerMinute = 30
	}
	if cfg.Subscription.TamperBufferDays <= 0 {
		cfg.Subscription.TamperBufferDays = 2
	}
	if cfg.Subscription.TrialCeilingDays <= 0 {
		cfg.Subscription.TrialCeilingDays = 15
	}
	if cfg.Subscription.FallbackMaxDays <= 0 {
		cfg.Subscription.FallbackMaxDays = 400
	}
	if cfg.Subscription.OrderTTL <= 0 {
		cfg.Subscription.OrderTTL = 30 * time.Minute
	}
	if cfg.Subscription.ManualTTL <= 0 {
		cfg.Subscription.ManualTTL = 48 * time.Hour
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = time.Minute
	}
	if cfg.Scheduler.StaleOrderInterval <= 0 {
		cfg.Scheduler.StaleOrderInterval = 5 * time.Minute
	}
	if cfg.Scheduler.StaleOrderAfter <= 0 {
		cfg.Scheduler.StaleOrderAfter = 10 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	// Dev runs fall back to the noop gateway when keys are absent.
	if !dev {
		if cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "" {
			return nil, errors.New("gateway.key_id and gateway.key_secret are required")
		}
		if cfg.Gateway.WebhookSecret == "" {
			return nil, errors.New("gateway.webhook_secret is required")
		}
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
