// File: internal/config/config.go
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
	Port      int    `yaml:"port"`
	AdminPort int    `yaml:"admin_port"`
	BaseURL   string `yaml:"base_url"` // public base used to build callback URLs
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type ZarinPalConfig struct {
	MerchantID string `yaml:"merchant_id"`
	Sandbox    bool   `yaml:"sandbox"`
}

type NowPaymentsConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type PaymentConfig struct {
	ZarinPal    ZarinPalConfig    `yaml:"zarinpal"`
	NowPayments NowPaymentsConfig `yaml:"nowpayments"`
	CallbackURL string            `yaml:"callback_url"`
}

// PanelConfig describes one VPN panel backend.
type PanelConfig struct {
	Kind     string              `yaml:"kind"` // marzban | marzneshin
	BaseURL  string              `yaml:"base_url"`
	Username string              `yaml:"username"`
	Password string              `yaml:"password"`
	Inbounds map[string][]string `yaml:"inbounds"`   // marzban only
	Proxies  map[string]string   `yaml:"proxies"`    // marzban only
	Services []int64             `yaml:"service_ids"` // marzneshin only
}

type WebhookConfig struct {
	URL         string        `yaml:"url"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type TelegramConfig struct {
	Token     string `yaml:"token"`
	ChannelID int64  `yaml:"channel_id"`
}

type AdminConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	Password   string        `yaml:"password"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Workers    int           `yaml:"workers"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Payment    PaymentConfig    `yaml:"payment"`
	Panels     []PanelConfig    `yaml:"panels"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Admin      AdminConfig      `yaml:"admin"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads and validates the YAML config. Missing credentials are
// configuration errors: reported here, before any outbound call, never
// retried.
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
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.AdminPort == 0 {
		cfg.Server.AdminPort = cfg.Server.Port + 1
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 3
	}
	if cfg.Webhook.BaseDelay <= 0 {
		cfg.Webhook.BaseDelay = 2 * time.Second
	}
	if cfg.Payment.NowPayments.BaseURL == "" {
		cfg.Payment.NowPayments.BaseURL = "https://api.nowpayments.io/v1"
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 4
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Payment.ZarinPal.MerchantID == "" {
		return nil, errors.New("payment.zarinpal.merchant_id is required")
	}
	if cfg.Payment.CallbackURL == "" {
		return nil, errors.New("payment.callback_url is required")
	}
	if cfg.Admin.JWTSecret == "" {
		return nil, errors.New("admin.jwt_secret is required")
	}
	if cfg.Admin.Password == "" {
		return nil, errors.New("admin.password is required")
	}
	if len(cfg.Panels) == 0 {
		return nil, errors.New("at least one panel must be configured")
	}
	for i, p := range cfg.Panels {
		if p.BaseURL == "" || p.Username == "" || p.Password == "" {
			return nil, fmt.Errorf("panels[%d]: base_url, username and password are required", i)
		}
		if p.Kind != "marzban" && p.Kind != "marzneshin" {
			return nil, fmt.Errorf("panels[%d]: unknown kind %q", i, p.Kind)
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
