package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	NatsURL     string
	NatsToken   string

	RedisAddr     string
	RedisPassword string
	DedupTTL      time.Duration

	CatalogPath string
	VapiSecret  string

	GHLBaseURL    string
	GHLLocationID string
	GHLAPIToken   string
	GHLTokenParam string
	AWSRegion     string

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:          envInt("QUILL_PORT", 8760),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		DedupTTL:      envDuration("DEDUP_TTL", 24*time.Hour),
		CatalogPath:   envStr("QUILL_CATALOG_PATH", ""),
		VapiSecret:    envStr("VAPI_SECRET_TOKEN", ""),
		GHLBaseURL:    envStr("GHL_BASE_URL", "https://services.leadconnectorhq.com"),
		GHLLocationID: envStr("GHL_LOCATION_ID", ""),
		GHLAPIToken:   envStr("GHL_API_TOKEN", ""),
		GHLTokenParam: envStr("GHL_TOKEN_PARAM", ""),
		AWSRegion:     envStr("AWS_REGION", "us-east-2"),
		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CALLS_CHANNEL", ""),
	}
}

// CRMEnabled reports whether a CRM token source is configured.
func (c Config) CRMEnabled() bool {
	return c.GHLAPIToken != "" || c.GHLTokenParam != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
