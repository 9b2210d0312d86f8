package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func localConfig() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestValidate_LocalRunsWithoutBackendsAndAppliesDefaults(t *testing.T) {
	c := localConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.HasPostgres() || c.HasRedis() {
		t.Fatalf("expected in-memory fallbacks")
	}
	if !c.Billing.ProviderShare.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("unexpected provider share %s", c.Billing.ProviderShare)
	}
	if c.Billing.TickInterval != time.Second || c.Billing.LowBalanceThreshold != time.Minute {
		t.Fatalf("unexpected billing defaults %+v", c.Billing)
	}
	if c.Signaling.CallEndTTL != 24*time.Hour {
		t.Fatalf("unexpected call end ttl %s", c.Signaling.CallEndTTL)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := localConfig()
	c.DB = DBConfig{Host: "localhost", User: "postgres", Password: "x", Name: "vidcall"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" || c.DB.Port != 5432 {
		t.Fatalf("expected sslmode disable and default port, got %q %d", c.DB.SSLMode, c.DB.Port)
	}
}

func TestValidate_ProductionRequiresBackends(t *testing.T) {
	c := Config{
		App:  AppConfig{Env: "production", Port: 8080},
		DB:   DBConfig{Host: "db", User: "postgres", Name: "vidcall"},
		Auth: AuthConfig{JWTSecret: "secret", JWTIssuer: "i", JWTAudience: "a"},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production errors")
	}
	for _, want := range []string{"DB_SSLMODE", "REDIS_HOST", "TRANSPORT_WEBHOOK_SECRET", "PAYMENTS_BASE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestValidate_ProviderShareRange(t *testing.T) {
	c := localConfig()
	c.Billing.ProviderShare = decimal.RequireFromString("1.5")
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "BILLING_PROVIDER_SHARE") {
		t.Fatalf("expected provider share error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("BILLING_PROVIDER_SHARE", "0.8")
	t.Setenv("BILLING_TICK_INTERVAL", "500ms")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_POOL_SIZE", "8")
	t.Setenv("REDIS_IO_TIMEOUT", "750ms")
	t.Setenv("DB_MAX_CONNS", "12")
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")
	t.Setenv("TRANSPORT_WEBHOOK_SECRET", "wh")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" || c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected addrs %s %s", c.HTTPAddr(), c.RedisAddr())
	}
	if c.Billing.ProviderShare.String() != "0.8" || c.Billing.TickInterval != 500*time.Millisecond {
		t.Fatalf("unexpected billing %+v", c.Billing)
	}
	if c.Redis.PoolSize != 8 || c.Redis.IOTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected redis pool %+v", c.Redis)
	}
	if c.DB.MaxConns != 12 || c.DB.ConnMaxLifetime != 10*time.Minute {
		t.Fatalf("unexpected db pool %+v", c.DB)
	}
	if c.Transport.WebhookSecret != "wh" {
		t.Fatalf("unexpected webhook secret %q", c.Transport.WebhookSecret)
	}

	t.Setenv("BILLING_LOW_BALANCE_THRESHOLD", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for bad duration")
	}
}

func TestValidate_StagingRequiresWebhookSecret(t *testing.T) {
	c := Config{
		App:   AppConfig{Env: "staging", Port: 8080},
		DB:    DBConfig{Host: "db", User: "postgres", Name: "vidcall"},
		Redis: RedisConfig{Host: "redis"},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "TRANSPORT_WEBHOOK_SECRET") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}

	c.Transport.WebhookSecret = "wh"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_RejectsNegativePoolSizes(t *testing.T) {
	c := localConfig()
	c.DB = DBConfig{Host: "localhost", User: "postgres", Name: "vidcall", MaxConns: -1}
	c.Redis = RedisConfig{Host: "localhost", PoolSize: -1}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected pool size errors")
	}
	for _, want := range []string{"DB_MAX_CONNS", "REDIS_POOL_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}
