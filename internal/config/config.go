package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch process.
// Values load from environment variables with defaults chosen so the
// binary runs locally without excessive setup.
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

	PGDSN           string
	OrderServiceURL string
	JWTSecret       string

	// OfferTTL is how long a partner holds an outstanding offer before
	// the dispatcher advances to the next candidate.
	OfferTTL time.Duration
	// StalenessThreshold is the heartbeat age past which a record is
	// considered abandoned.
	StalenessThreshold time.Duration
	// CodeTTL bounds the lifetime of pickup/dropoff codes.
	CodeTTL time.Duration
	// LocationSampleRate is the fraction of location updates published to
	// Kafka for persistence. Matching correctness never depends on it.
	LocationSampleRate float64
	DefaultSpeedMps    float64

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "partners_geo",
		KafkaTopic:         "partner-locations",
		OfferTTL:           30 * time.Second,
		StalenessThreshold: 5 * time.Minute,
		CodeTTL:            time.Hour,
		LocationSampleRate: 0.1,
		DefaultSpeedMps:    8,
		LogLevel:           "info",
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
	setStringFromEnv(&cfg.OrderServiceURL, "ORDER_SERVICE_URL")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setDurationFromEnv(&cfg.StalenessThreshold, "STALENESS_THRESHOLD", &errs)
	setDurationFromEnv(&cfg.CodeTTL, "CODE_TTL", &errs)
	setFloatFromEnv(&cfg.LocationSampleRate, "LOCATION_SAMPLE_RATE", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL must be > 0"))
	}
	if cfg.StalenessThreshold <= 0 {
		errs = append(errs, fmt.Errorf("STALENESS_THRESHOLD must be > 0"))
	}
	if cfg.LocationSampleRate < 0 || cfg.LocationSampleRate > 1 {
		errs = append(errs, fmt.Errorf("LOCATION_SAMPLE_RATE must be in [0,1]"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig is the subset the location consumer process needs.
type ConsumerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	StalenessThreshold time.Duration
	LogLevel           string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		RedisAddr:          "localhost:6379",
		RedisGeoKey:        "partners_geo",
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaTopic:         "partner-locations",
		KafkaGroup:         "partner-dispatch-consumer",
		StalenessThreshold: 5 * time.Minute,
		LogLevel:           "info",
	}
	var errs []error

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setDurationFromEnv(&cfg.StalenessThreshold, "STALENESS_THRESHOLD", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.StalenessThreshold <= 0 {
		errs = append(errs, fmt.Errorf("STALENESS_THRESHOLD must be > 0"))
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
