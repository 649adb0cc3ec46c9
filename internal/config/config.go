package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	// Token lifecycle. The skew is subtracted from token expiry before a
	// refresh is forced; one value for every provider.
	TokenExpirySkew time.Duration
	ExchangeTimeout time.Duration
	DispatchTimeout time.Duration

	// Provider OAuth app credentials.
	GoogleClientID          string
	GoogleClientSecret      string
	GoogleAdsDeveloperToken string
	MetaAppID               string
	MetaAppSecret           string
	MicrosoftClientID       string
	MicrosoftClientSecret   string
	MicrosoftDeveloperToken string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		ServiceName:          getEnv("SERVICE_NAME", "leadloopr-integrations"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Org-ID"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),

		TokenExpirySkew: getDuration("TOKEN_EXPIRY_SKEW", 5*time.Minute),
		ExchangeTimeout: getDuration("TOKEN_EXCHANGE_TIMEOUT", 10*time.Second),
		DispatchTimeout: getDuration("CONVERSION_DISPATCH_TIMEOUT", 15*time.Second),

		GoogleClientID:          os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:      os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleAdsDeveloperToken: os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN"),
		MetaAppID:               os.Getenv("META_APP_ID"),
		MetaAppSecret:           os.Getenv("META_APP_SECRET"),
		MicrosoftClientID:       os.Getenv("MICROSOFT_CLIENT_ID"),
		MicrosoftClientSecret:   os.Getenv("MICROSOFT_CLIENT_SECRET"),
		MicrosoftDeveloperToken: os.Getenv("MICROSOFT_DEVELOPER_TOKEN"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TokenExpirySkew <= 0 {
		cfg.TokenExpirySkew = 5 * time.Minute
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
