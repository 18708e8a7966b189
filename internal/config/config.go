package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Queue backend selection.
const (
	QueueBackendHTTP  = "http"
	QueueBackendRedis = "redis"
	QueueBackendLocal = "local"
)

// Config centralizes runtime settings for the API, the maintenance
// worker and the optional self-hosted dispatcher.
type Config struct {
	Port      string
	AuthToken string

	DatabaseURL string

	QueueBackend    string
	QueueBaseURL    string
	QueueToken      string
	QueueTimeoutMS  int
	QueueMaxRetries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisDelayKey string

	WorkerURL     string
	PublicBaseURL string

	SigningKeyCurrent string
	SigningKeyNext    string
	StrictSignatures  bool

	DeliveryRetryMax           int
	DeliveryRetryBaseSeconds   int
	DeliveryRetryMaxSeconds    int
	FlowControlKey             string
	FlowControlRate            float64
	FlowControlParallelism     int
	DispatcherEnabled          bool
	DispatcherPollIntervalMS   int
	DispatcherDeliverTimeoutMS int

	MaintenanceEnabled         bool
	MaintenanceIntervalSeconds int
	StalledGraceSeconds        int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		QueueBackend:    getEnv("QUEUE_BACKEND", QueueBackendLocal),
		QueueBaseURL:    getEnv("QUEUE_BASE_URL", ""),
		QueueToken:      getEnv("QUEUE_TOKEN", ""),
		QueueTimeoutMS:  getEnvInt("QUEUE_TIMEOUT_MS", 10000),
		QueueMaxRetries: getEnvInt("QUEUE_MAX_RETRIES", 2),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisDelayKey: getEnv("REDIS_DELAY_KEY", "notify:delayed"),

		WorkerURL:     getEnv("DELIVERY_WORKER_URL", ""),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		SigningKeyCurrent: getEnv("SIGNING_KEY_CURRENT", ""),
		SigningKeyNext:    getEnv("SIGNING_KEY_NEXT", ""),
		StrictSignatures:  getEnvBool("STRICT_SIGNATURES", false),

		DeliveryRetryMax:           getEnvInt("DELIVERY_RETRY_MAX", 3),
		DeliveryRetryBaseSeconds:   getEnvInt("DELIVERY_RETRY_BASE_SECONDS", 30),
		DeliveryRetryMaxSeconds:    getEnvInt("DELIVERY_RETRY_MAX_SECONDS", 3600),
		FlowControlKey:             getEnv("FLOW_CONTROL_KEY", "email-provider"),
		FlowControlRate:            getEnvFloat("FLOW_CONTROL_RATE", 5),
		FlowControlParallelism:     getEnvInt("FLOW_CONTROL_PARALLELISM", 2),
		DispatcherEnabled:          getEnvBool("DISPATCHER_ENABLED", true),
		DispatcherPollIntervalMS:   getEnvInt("DISPATCHER_POLL_INTERVAL_MS", 1000),
		DispatcherDeliverTimeoutMS: getEnvInt("DISPATCHER_DELIVER_TIMEOUT_MS", 30000),

		MaintenanceEnabled:         getEnvBool("MAINTENANCE_ENABLED", true),
		MaintenanceIntervalSeconds: getEnvInt("MAINTENANCE_INTERVAL_SECONDS", 300),
		StalledGraceSeconds:        getEnvInt("STALLED_GRACE_SECONDS", 120),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
	}
}

// Validate surfaces configuration errors at startup instead of as
// runtime 5xx surprises.
func (c Config) Validate() error {
	switch c.QueueBackend {
	case QueueBackendHTTP:
		if c.QueueBaseURL == "" || c.QueueToken == "" {
			return errors.New("QUEUE_BASE_URL and QUEUE_TOKEN are required for the http queue backend")
		}
	case QueueBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis queue backend")
		}
	case QueueBackendLocal:
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}

	if c.WorkerURL == "" {
		return errors.New("DELIVERY_WORKER_URL is required")
	}
	if c.StrictSignatures && c.SigningKeyCurrent == "" {
		return errors.New("SIGNING_KEY_CURRENT is required when STRICT_SIGNATURES is on")
	}
	return nil
}

func (c Config) CallbackURL() string {
	return strings.TrimSuffix(c.PublicBaseURL, "/") + "/v1/notifications/callback"
}

func (c Config) FailureCallbackURL() string {
	return strings.TrimSuffix(c.PublicBaseURL, "/") + "/v1/notifications/failure"
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}
