package utils

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env            string
	Addr           string
	DatabaseURL    string
	RedisURL       string
	SendGridAPIKey string
	MailFrom       string
	GatewayURL     string
	GatewayConfig  string
	SessionTTL     time.Duration
	SecureCookies  bool
}

// LoadConfig reads the environment, loading .env first outside production.
func LoadConfig() Config {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, continuing..")
		}
	}

	cfg := Config{
		Env:            os.Getenv("APP_ENV"),
		Addr:           getEnv("ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailFrom:       getEnv("MAIL_FROM", "donotreply@postdeck.app"),
		GatewayURL:     os.Getenv("GATEWAY_URL"),
		GatewayConfig:  os.Getenv("GATEWAY_CONFIG"),
		SessionTTL:     24 * time.Hour,
		SecureCookies:  os.Getenv("APP_ENV") == "production",
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			log.Printf("invalid SESSION_TTL %q, using %s", v, cfg.SessionTTL)
		} else {
			cfg.SessionTTL = ttl
		}
	}
	if v := os.Getenv("SECURE_COOKIES"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("invalid SECURE_COOKIES %q", v)
		} else {
			cfg.SecureCookies = secure
		}
	}

	return cfg
}

// GatewayEnabled reports whether an auth gateway is configured.
func (c Config) GatewayEnabled() bool {
	return c.GatewayURL != "" || c.GatewayConfig != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
