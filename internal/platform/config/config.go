package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the entitlement service.
type Server struct {
	Addr          string
	PostgresURL   string
	RedisURL      string
	KafkaBrokers  string
	JWTSigningKey string

	// DirectoryURL points at the corporate directory API. When empty the
	// service loads DirectorySeedPath into an in-memory directory instead.
	DirectoryURL      string
	DirectorySeedPath string

	// RequestNumberPrefix is the human-readable sequence prefix, e.g. REQ
	// produces numbers like REQ-2025-00001.
	RequestNumberPrefix string

	// RevocationCron is the daily time-of-day trigger for the expiration scan.
	RevocationCron string
	// RevocationInterval is the recurring second trigger; both fire the same
	// idempotent scan, so overlap is harmless.
	RevocationInterval time.Duration

	// LoginCodeTTL bounds one-time login codes in the keyed code store.
	LoginCodeTTL time.Duration
	// TokenTTL bounds issued access tokens.
	TokenTTL time.Duration

	// MinJustificationLen rejects requests with too little business context.
	MinJustificationLen int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                envOr("ENTITLE_ADDR", ":8080"),
		PostgresURL:         os.Getenv("ENTITLE_POSTGRES_URL"),
		RedisURL:            os.Getenv("ENTITLE_REDIS_URL"),
		KafkaBrokers:        os.Getenv("ENTITLE_KAFKA_BROKERS"),
		JWTSigningKey:       envOr("ENTITLE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DirectoryURL:        os.Getenv("ENTITLE_DIRECTORY_URL"),
		DirectorySeedPath:   os.Getenv("ENTITLE_DIRECTORY_SEED"),
		RequestNumberPrefix: envOr("ENTITLE_REQUEST_PREFIX", "REQ"),
		RevocationCron:      envOr("ENTITLE_REVOCATION_CRON", "0 1 * * *"),
		RevocationInterval:  envDurationOr("ENTITLE_REVOCATION_INTERVAL", 6*time.Hour),
		LoginCodeTTL:        envDurationOr("ENTITLE_LOGIN_CODE_TTL", 5*time.Minute),
		TokenTTL:            envDurationOr("ENTITLE_TOKEN_TTL", 12*time.Hour),
		MinJustificationLen: envIntOr("ENTITLE_MIN_JUSTIFICATION_LEN", 10),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
