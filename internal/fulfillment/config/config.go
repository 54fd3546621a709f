package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config contains application configuration
type Config struct {
	RunAddress  string
	DatabaseURI string
	DataDir     string

	StripeSecretKey     string
	StripeWebhookSecret string

	MailgunAPIKey    string
	MailgunDomain    string
	MailgunSender    string
	AdminNotifyEmail string

	JWTSecret     string
	AdminEmail    string
	AdminPassword string

	RedisAddr     string
	RedisPassword string

	SweepInterval time.Duration
}

// Load reads configuration from flags, then lets environment variables
// (and a .env file, when present) override them
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config

	fset := flag.NewFlagSet("fulfillment", flag.ContinueOnError)
	fset.StringVar(&cfg.RunAddress, "a", "", "Server run address")
	fset.StringVar(&cfg.DatabaseURI, "d", "", "Database URI")
	fset.StringVar(&cfg.DataDir, "data", "", "Data directory for the file store")
	fset.DurationVar(&cfg.SweepInterval, "sweep", 0, "Cancellation sweep interval")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	// Override with env vars if present
	if port := os.Getenv("PORT"); port != "" {
		cfg.RunAddress = ":" + port
	}
	if envAddr := os.Getenv("RUN_ADDRESS"); envAddr != "" {
		cfg.RunAddress = envAddr
	}
	override(&cfg.DatabaseURI, "DATABASE_URI")
	override(&cfg.DataDir, "DATA_DIR")
	override(&cfg.StripeSecretKey, "STRIPE_SECRET_KEY")
	override(&cfg.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	override(&cfg.MailgunAPIKey, "MAILGUN_API_KEY")
	override(&cfg.MailgunDomain, "MAILGUN_DOMAIN")
	override(&cfg.MailgunSender, "MAILGUN_SENDER")
	override(&cfg.AdminNotifyEmail, "ADMIN_NOTIFY_EMAIL")
	override(&cfg.JWTSecret, "JWT_SECRET")
	override(&cfg.AdminEmail, "ADMIN_EMAIL")
	override(&cfg.AdminPassword, "ADMIN_PASSWORD")
	override(&cfg.RedisAddr, "REDIS_ADDR")
	override(&cfg.RedisPassword, "REDIS_PASSWORD")

	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}

	// Set defaults if needed
	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.MailgunSender == "" && cfg.MailgunDomain != "" {
		cfg.MailgunSender = "Fulfillment <noreply@" + cfg.MailgunDomain + ">"
	}
	if cfg.AdminNotifyEmail == "" {
		cfg.AdminNotifyEmail = cfg.AdminEmail
	}

	return &cfg, nil
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// MailEnabled reports whether Mailgun delivery is configured
func (c *Config) MailEnabled() bool {
	return c.MailgunAPIKey != "" && c.MailgunDomain != "" && c.AdminNotifyEmail != ""
}
