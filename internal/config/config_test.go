package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func decodeWithDefaults(t *testing.T, yaml string) *Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)
	if yaml != "" {
		if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
			t.Fatalf("read config failed: %v", err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode config failed: %v", err)
	}
	return cfg
}

func TestDecodeDefaults(t *testing.T) {
	cfg := decodeWithDefaults(t, "")

	if cfg.Payout.MaxAttempts != 5 {
		t.Fatalf("max attempts want 5 got %d", cfg.Payout.MaxAttempts)
	}
	if cfg.Idempotency.Driver != "redis" || cfg.Idempotency.TTLSeconds != 300 {
		t.Fatalf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Reconcile.Secret != "" || cfg.Reconcile.Cron != "@every 15m" {
		t.Fatalf("unexpected reconcile defaults: %+v", cfg.Reconcile)
	}
	if cfg.Security.WebhookRateLimit.MaxRequests != 600 || cfg.Security.ReconcileRateLimit.MaxRequests != 30 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.Security)
	}
	if cfg.Commission.HoldDays != 7 {
		t.Fatalf("hold days want 7 got %d", cfg.Commission.HoldDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDecodeNormalizesValues(t *testing.T) {
	cfg := decodeWithDefaults(t, `
idempotency:
  driver: " Database "
  ttl_seconds: -1
payout:
  provider: " PayPal "
  max_attempts: 0
  transfer_timeout_seconds: 0
  lease_seconds: -5
commission:
  hold_days: -3
reconcile:
  secret: "  s3cret  "
  affiliate_timeout_seconds: 0
`)

	if cfg.Idempotency.Driver != "database" || cfg.Idempotency.TTLSeconds != 300 {
		t.Fatalf("unexpected idempotency: %+v", cfg.Idempotency)
	}
	if cfg.Payout.Provider != "paypal" {
		t.Fatalf("provider want paypal got %q", cfg.Payout.Provider)
	}
	if cfg.Payout.MaxAttempts != 5 || cfg.Payout.TransferTimeoutSeconds != 15 || cfg.Payout.LeaseSeconds != 60 {
		t.Fatalf("unexpected payout: %+v", cfg.Payout)
	}
	if cfg.Commission.HoldDays != 0 {
		t.Fatalf("hold days want 0 got %d", cfg.Commission.HoldDays)
	}
	if cfg.Reconcile.Secret != "s3cret" || cfg.Reconcile.AffiliateTimeoutSeconds != 60 {
		t.Fatalf("unexpected reconcile: %+v", cfg.Reconcile)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "database driver", mutate: func(c *Config) { c.Idempotency.Driver = "database" }},
		{name: "memory in debug", mutate: func(c *Config) { c.Idempotency.Driver = "memory"; c.Server.Mode = "debug" }},
		{name: "memory in release", mutate: func(c *Config) { c.Idempotency.Driver = "memory"; c.Server.Mode = "release" }, wantErr: true},
		{name: "redis without redis", mutate: func(c *Config) { c.Idempotency.Driver = "redis"; c.Redis.Enabled = false }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Idempotency.Driver = "etcd" }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := decodeWithDefaults(t, "")
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestToLoggerOptions(t *testing.T) {
	opts := LogConfig{Dir: "/var/log/rc", Filename: "rc.log", MaxSizeMB: 10, MaxBackups: 2, MaxAgeDays: 3, Compress: true}.ToLoggerOptions()
	if opts.Dir != "/var/log/rc" || opts.Filename != "rc.log" || opts.MaxSizeMB != 10 || opts.MaxBackups != 2 || opts.MaxAgeDays != 3 || !opts.Compress {
		t.Fatalf("unexpected logger options: %+v", opts)
	}
}
