//go:build !integration

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mpesa-payment-core/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
database:
  url: postgres://localhost:5432/payments
redis:
  url: localhost:6379
security:
  api_secret: super-secret
daraja:
  shortcode: "174379"
  till_number: "174379"
  consumer_key: key
  consumer_secret: secret
  passkey: passkey
  token_url: https://sandbox.safaricom.co.ke/oauth/v1/generate
  stk_push_url: https://sandbox.safaricom.co.ke/mpesa/stkpush/v1/processrequest
  query_url: https://sandbox.safaricom.co.ke/mpesa/stkpushquery/v1/query
  callback_url: https://example.com/webhook/daraja
`

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML), false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.RequestTimeout != 45*time.Second {
		t.Errorf("expected 45s request timeout, got %v", cfg.HTTP.RequestTimeout)
	}
	if cfg.Daraja.Timeout != 15*time.Second {
		t.Errorf("expected 15s daraja timeout, got %v", cfg.Daraja.Timeout)
	}
	if cfg.Verify.MaxAttempts != 6 || cfg.Verify.PollDelay != 5*time.Second {
		t.Errorf("unexpected verify defaults: %+v", cfg.Verify)
	}
	if cfg.Reconciler.Interval != time.Minute || cfg.Reconciler.StaleAfter != 10*time.Minute {
		t.Errorf("unexpected reconciler defaults: %+v", cfg.Reconciler)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadConfig_ReportsAllMissingFields(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "log:\n  level: debug\n"), false)
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	for _, want := range []string{"database.url", "redis.url", "security.api_secret", "daraja.passkey", "daraja.callback_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should name %s, got: %v", want, err)
		}
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadConfig_DevFlag(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML), true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Runtime.Dev {
		t.Error("expected dev mode to be set from the flag")
	}
}

func TestLoadConfig_DevModeToleratesMissingRedis(t *testing.T) {
	noRedis := strings.Replace(validYAML, "redis:\n  url: localhost:6379\n", "", 1)

	if _, err := LoadConfig(writeConfig(t, noRedis), false); !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("redis must be required outside dev mode, got %v", err)
	}
	cfg, err := LoadConfig(writeConfig(t, noRedis), true)
	if err != nil {
		t.Fatalf("dev mode should run without redis: %v", err)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("unexpected redis url %q", cfg.Redis.URL)
	}
}

func TestDarajaConfig_MissingFields(t *testing.T) {
	d := DarajaConfig{Shortcode: "174379", ConsumerKey: "k"}
	missing := d.MissingFields()
	if len(missing) != 7 {
		t.Errorf("expected 7 missing fields, got %d: %v", len(missing), missing)
	}
}
