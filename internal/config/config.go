package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mpesa-payment-core/internal/domain"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DarajaConfig holds the push-payment provider settings. All fields except
// the timeout are required; construction fails fast when any is missing.
type DarajaConfig struct {
	Shortcode      string        `yaml:"shortcode"`
	TillNumber     string        `yaml:"till_number"`
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	Passkey        string        `yaml:"passkey"`
	TokenURL       string        `yaml:"token_url"`
	STKPushURL     string        `yaml:"stk_push_url"`
	QueryURL       string        `yaml:"query_url"`
	CallbackURL    string        `yaml:"callback_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

type SecurityConfig struct {
	// EncryptionSecret derives the at-rest key. When empty a random key is
	// generated at startup: fine for in-flight redaction, not for data that
	// must outlive the process.
	EncryptionSecret string `yaml:"encryption_secret"`
	// APISecret signs the bearer tokens guarding the payments API.
	APISecret string        `yaml:"api_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type ReconcilerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type VerifyConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	PollDelay   time.Duration `yaml:"poll_delay"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Daraja     DarajaConfig     `yaml:"daraja"`
	Security   SecurityConfig   `yaml:"security"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Verify     VerifyConfig     `yaml:"verify"`

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

	applyDefaults(&cfg)

	if err := validate(&cfg, dev); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		// Verify can legitimately block for the whole polling budget.
		cfg.HTTP.RequestTimeout = 45 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Daraja.Timeout <= 0 {
		cfg.Daraja.Timeout = 15 * time.Second
	}
	if cfg.Security.TokenTTL <= 0 {
		cfg.Security.TokenTTL = 30 * time.Minute
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Verify.MaxAttempts <= 0 {
		cfg.Verify.MaxAttempts = 6
	}
	if cfg.Verify.PollDelay <= 0 {
		cfg.Verify.PollDelay = 5 * time.Second
	}
}

func validate(cfg *Config, dev bool) error {
	var missing []string
	if cfg.Database.URL == "" {
		missing = append(missing, "database.url")
	}
	// Dev mode may run without Redis; session state falls back to memory.
	if cfg.Redis.URL == "" && !dev {
		missing = append(missing, "redis.url")
	}
	if cfg.Security.APISecret == "" {
		missing = append(missing, "security.api_secret")
	}
	missing = append(missing, cfg.Daraja.MissingFields()...)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}

// MissingFields lists required daraja settings that are unset.
func (d *DarajaConfig) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"daraja.shortcode", d.Shortcode},
		{"daraja.till_number", d.TillNumber},
		{"daraja.consumer_key", d.ConsumerKey},
		{"daraja.consumer_secret", d.ConsumerSecret},
		{"daraja.passkey", d.Passkey},
		{"daraja.token_url", d.TokenURL},
		{"daraja.stk_push_url", d.STKPushURL},
		{"daraja.query_url", d.QueryURL},
		{"daraja.callback_url", d.CallbackURL},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	return missing
}
