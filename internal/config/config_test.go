package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Env:            "production",
		DatabaseURL:    "postgres://localhost/odonto",
		JWTSecret:      strings.Repeat("s", 32),
		OTPTTLMinutes:  10,
		OTPMaxAttempts: 3,
		OTPTokenTTLMin: 5,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingJWTSecretInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing JWT_SECRET in production")
	}
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short JWT_SECRET")
	}
}

func TestValidate_DevWithoutSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "development"
	cfg.JWTSecret = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dev mode should not require a secret: %v", err)
	}
}

func TestValidate_SignerNeedsAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.SignerBaseURL = "https://signer.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for signer URL without API key")
	}
	cfg.SignerAPIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_OTPBounds(t *testing.T) {
	cfg := validConfig()
	cfg.OTPMaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero OTP_MAX_ATTEMPTS")
	}
}

func TestOTPDurations(t *testing.T) {
	cfg := validConfig()
	if got := cfg.OTPTTL().Minutes(); got != 10 {
		t.Errorf("OTPTTL = %v minutes, want 10", got)
	}
	if got := cfg.OTPTokenTTL().Minutes(); got != 5 {
		t.Errorf("OTPTokenTTL = %v minutes, want 5", got)
	}
}
