package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppEnv      string
	Port        string
	CORSOrigins []string

	// Storage: "postgres" or "memory"
	StoreDriver string
	DatabaseURL string

	// Security
	JWTSecret string

	// Presence session counter (optional, in-process counter when empty)
	RedisURL string

	// Observability (optional)
	SentryDSN string

	// WebSocket
	WSSendBuffer int
	WSWriteWait  time.Duration
	WSPongWait   time.Duration

	// Export publishing (S3-compatible, optional)
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Endpoint       string
	ExportLinkExpiry time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		AppEnv:      envString("APP_ENV", "development"),
		Port:        envString("PORT", "8080"),
		CORSOrigins: envList("CORS_ORIGINS", []string{"http://localhost:5173"}),

		StoreDriver: envString("STORE_DRIVER", "postgres"),
		DatabaseURL: envString("DATABASE_URL", ""),

		JWTSecret: envRequired("JWT_SECRET"),

		RedisURL:  envString("REDIS_URL", ""),
		SentryDSN: envString("SENTRY_DSN", ""),

		WSSendBuffer: envInt("WS_SEND_BUFFER", 256),
		WSWriteWait:  envDuration("WS_WRITE_WAIT", 10*time.Second),
		WSPongWait:   envDuration("WS_PONG_WAIT", 60*time.Second),

		S3Region:         envString("S3_REGION", "us-east-1"),
		S3Bucket:         envString("S3_BUCKET", ""),
		S3AccessKey:      envString("S3_ACCESS_KEY", ""),
		S3SecretKey:      envString("S3_SECRET_KEY", ""),
		S3Endpoint:       envString("S3_ENDPOINT", ""),
		ExportLinkExpiry: envDuration("EXPORT_LINK_EXPIRY", 15*time.Minute),
	}

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required when STORE_DRIVER=postgres",
			"hint", "set STORE_DRIVER=memory for a throwaway local server")
		os.Exit(1)
	}

	return cfg
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ExportPublishingEnabled reports whether an object storage bucket is configured.
func (c *Config) ExportPublishingEnabled() bool {
	return c.S3Bucket != ""
}
