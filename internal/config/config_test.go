package config

import (
	"strings"
	"testing"
)

func validLocalConfig() Config {
	return Config{
		App:     AppConfig{Env: "local", Port: 8080, PublicBaseURL: "https://voice.example.com"},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callflow", SSLMode: ""},
		Redis:   RedisConfig{Host: "localhost", Port: 6379},
		Auth:    AuthConfig{JWTSecret: "secret"},
		Gateway: GatewayConfig{ProjectID: "proj", Token: "tok", SpaceURL: "example.signalwire.com"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocalConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Billing.Currency != "USD" {
		t.Fatalf("expected USD default, got %q", c.Billing.Currency)
	}
	if c.Billing.CallRateMinor != 50 || c.Billing.SpoofRateMinor != 80 {
		t.Fatalf("unexpected rate defaults: %d/%d", c.Billing.CallRateMinor, c.Billing.SpoofRateMinor)
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		t.Fatalf("ttl defaults not applied: %v/%v", c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL)
	}
}

func TestValidate_ProductionRequiresSSLModeAndJWTMetadata(t *testing.T) {
	c := validLocalConfig()
	c.App.Env = "production"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	if !strings.Contains(err.Error(), "DB_SSLMODE") || !strings.Contains(err.Error(), "JWT_ISSUER") {
		t.Fatalf("expected sslmode and issuer errors, got: %v", err)
	}
}

func TestValidate_RequiresPublicBaseURL(t *testing.T) {
	c := validLocalConfig()
	c.App.PublicBaseURL = ""
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "PUBLIC_BASE_URL") {
		t.Fatalf("expected PUBLIC_BASE_URL error, got: %v", err)
	}

	c = validLocalConfig()
	c.App.PublicBaseURL = "voice.example.com"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for scheme-less base url")
	}
}

func TestValidate_RequiresGatewayCredentials(t *testing.T) {
	c := validLocalConfig()
	c.Gateway = GatewayConfig{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected gateway validation errors")
	}
	for _, want := range []string{"GATEWAY_PROJECT_ID", "GATEWAY_TOKEN", "GATEWAY_SPACE_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in: %v", want, err)
		}
	}
}

func TestAddrs(t *testing.T) {
	c := validLocalConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := c.HTTPAddr(); got != ":8080" {
		t.Fatalf("http addr = %q", got)
	}
	if got := c.RedisAddr(); got != "localhost:6379" {
		t.Fatalf("redis addr = %q", got)
	}
	if dsn := c.PostgresDSN(); !strings.Contains(dsn, "dbname=callflow") || !strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("dsn = %q", dsn)
	}
}
