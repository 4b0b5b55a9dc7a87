package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the realtime server
// process. Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OfferTTL           time.Duration // how long a dispatched offer stays valid
	DispatchTopN       int           // candidate drivers considered per round
	DispatchRetryDelay time.Duration // wait between rounds with no available driver
	DispatchRetryLimit int           // empty rounds before an order is dropped
	DefaultSpeedMps    float64       // ETA estimation speed
	OSRMEndpoint       string        // optional routing engine

	FeeBase  float64
	FeePerKm float64
	FeeMin   float64
	FeeMax   float64

	LogLevel      string
	RunMigrations bool
}

// ClientConfig tunes the client-side channel and tracking protocol.
type ClientConfig struct {
	ServerURL         string // ws(s)://host:port
	APIBaseURL        string // http(s)://host:port for one-shot fetches
	DialTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PollInterval      time.Duration
	LogLevel          string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":3001",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaTopic:         "driver-locations",
		OfferTTL:           30 * time.Second,
		DispatchTopN:       8,
		DispatchRetryDelay: 30 * time.Second,
		DispatchRetryLimit: 10,
		DefaultSpeedMps:    10,
		FeeBase:            1.5,
		FeePerKm:           0.5,
		FeeMin:             1.5,
		FeeMax:             10.0,
		LogLevel:           "info",
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:         "ws://localhost:3001",
		APIBaseURL:        "http://localhost:3001",
		DialTimeout:       10 * time.Second,
		ReconnectAttempts: 10,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PollInterval:      15 * time.Second,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setIntFromEnv(&cfg.DispatchTopN, "DISPATCH_TOP_N", &errs)
	setDurationFromEnv(&cfg.DispatchRetryDelay, "DISPATCH_RETRY_DELAY", &errs)
	setIntFromEnv(&cfg.DispatchRetryLimit, "DISPATCH_RETRY_LIMIT", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	setFloatFromEnv(&cfg.FeeBase, "FEE_BASE", &errs)
	setFloatFromEnv(&cfg.FeePerKm, "FEE_PER_KM", &errs)
	setFloatFromEnv(&cfg.FeeMin, "FEE_MIN", &errs)
	setFloatFromEnv(&cfg.FeeMax, "FEE_MAX", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DispatchTopN <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_TOP_N must be > 0"))
	}
	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL must be > 0"))
	}
	if cfg.DispatchRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RETRY_DELAY must be > 0"))
	}
	if cfg.FeeMin > cfg.FeeMax {
		errs = append(errs, fmt.Errorf("FEE_MIN must not exceed FEE_MAX"))
	}

	return cfg, errors.Join(errs...)
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.ServerURL, "SERVER_URL")
	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setDurationFromEnv(&cfg.DialTimeout, "DIAL_TIMEOUT", &errs)
	setIntFromEnv(&cfg.ReconnectAttempts, "RECONNECT_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.ReconnectDelay, "RECONNECT_DELAY", &errs)
	setDurationFromEnv(&cfg.MaxReconnectDelay, "RECONNECT_MAX_DELAY", &errs)
	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("RECONNECT_ATTEMPTS must be >= 0"))
	}
	if cfg.ReconnectDelay < time.Second {
		errs = append(errs, fmt.Errorf("RECONNECT_DELAY must be at least 1s"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
