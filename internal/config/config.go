package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisAddr      string   `mapstructure:"REDIS_ADDR"`
	RedisDB        int      `mapstructure:"REDIS_DB"`
	JWTSecret      string   `mapstructure:"JWT_SECRET"`
	JWTIssuer      string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	OTPTTLMinutes  int      `mapstructure:"OTP_TTL_MINUTES"`
	OTPMaxAttempts int      `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPTokenTTLMin int      `mapstructure:"OTP_TOKEN_TTL_MINUTES"`
	OTPSendLimit   int      `mapstructure:"OTP_SEND_LIMIT"`
	OTPSendWindow  int      `mapstructure:"OTP_SEND_WINDOW_MINUTES"`
	SMTPHost       string   `mapstructure:"SMTP_HOST"`
	SMTPFrom       string   `mapstructure:"SMTP_FROM"`
	SMTPUsername   string   `mapstructure:"SMTP_USERNAME"`
	SMTPPassword   string   `mapstructure:"SMTP_PASSWORD"`
	ClinicName     string   `mapstructure:"CLINIC_NAME"`
	BlobDir        string   `mapstructure:"BLOB_DIR"`
	SignerBaseURL  string   `mapstructure:"SIGNER_BASE_URL"`
	SignerAPIKey   string   `mapstructure:"SIGNER_API_KEY"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "odonto")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("OTP_TTL_MINUTES", 10)
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_TOKEN_TTL_MINUTES", 5)
	v.SetDefault("OTP_SEND_LIMIT", 10)
	v.SetDefault("OTP_SEND_WINDOW_MINUTES", 15)
	v.SetDefault("CLINIC_NAME", "Clínica Odontológica")
	v.SetDefault("BLOB_DIR", "./data/blobs")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_ADDR")
	v.BindEnv("REDIS_DB")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("OTP_TTL_MINUTES")
	v.BindEnv("OTP_MAX_ATTEMPTS")
	v.BindEnv("OTP_TOKEN_TTL_MINUTES")
	v.BindEnv("OTP_SEND_LIMIT")
	v.BindEnv("OTP_SEND_WINDOW_MINUTES")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_FROM")
	v.BindEnv("SMTP_USERNAME")
	v.BindEnv("SMTP_PASSWORD")
	v.BindEnv("CLINIC_NAME")
	v.BindEnv("BLOB_DIR")
	v.BindEnv("SIGNER_BASE_URL")
	v.BindEnv("SIGNER_API_KEY")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active and all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// OTPTTL returns the challenge lifetime.
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLMinutes) * time.Minute
}

// OTPTokenTTL returns the lifetime of the verification token minted on a
// successful code check.
func (c *Config) OTPTokenTTL() time.Duration {
	return time.Duration(c.OTPTokenTTLMin) * time.Minute
}

// OTPSendWindowDur returns the throttle window for challenge delivery.
func (c *Config) OTPSendWindowDur() time.Duration {
	return time.Duration(c.OTPSendWindow) * time.Minute
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret must be set so that real authentication is enforced and OTP
// verification tokens cannot be forged.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.JWTSecret))
	}
	if c.OTPTTLMinutes <= 0 {
		return fmt.Errorf("OTP_TTL_MINUTES must be positive, got %d", c.OTPTTLMinutes)
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTPMaxAttempts)
	}
	if c.OTPTokenTTLMin <= 0 {
		return fmt.Errorf("OTP_TOKEN_TTL_MINUTES must be positive, got %d", c.OTPTokenTTLMin)
	}
	if c.SignerBaseURL != "" && c.SignerAPIKey == "" {
		return fmt.Errorf("SIGNER_API_KEY is required when SIGNER_BASE_URL is set")
	}
	return nil
}
