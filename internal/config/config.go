package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by database.Open.
const (
	StoreSurreal = "surreal"
	StoreRedis   = "redis"
	StoreFile    = "file"
	StoreMemory  = "memory"
)

// Bus drivers understood by pubsub.Open.
const (
	BusNone   = "none"
	BusMemory = "memory"
	BusRedis  = "redis"
)

// Config holds all configuration for the relay server.
type Config struct {
	Port string

	StoreDriver string
	StoreFile   string

	DBUrl  string
	DBNs   string
	DBDb   string
	DBUser string
	DBPass string

	RedisURL string

	BusDriver string

	// Bus tracing. Spans go to a Zipkin collector when enabled.
	TracingEnabled     bool
	TracingServiceName string
	ZipkinURL          string

	PingInterval time.Duration
	RetryMax     int
	RetryBase    time.Duration
	RetryCap     time.Duration

	// RateLimit is the per-IP request rate for /ws upgrades and the history API.
	RateLimit float64

	AllowedOrigins []string
}

// New loads configuration from a .env file, when present, and the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		Port:               r.str("PORT", "8080"),
		StoreDriver:        strings.ToLower(r.str("STORE_DRIVER", StoreSurreal)),
		StoreFile:          r.str("STORE_FILE", "data/messages.jsonl"),
		DBUrl:              getenv("SURREAL_URL"),
		DBUser:             getenv("SURREAL_USER"),
		DBPass:             getenv("SURREAL_PASS"),
		DBNs:               getenv("SURREAL_NS"),
		DBDb:               getenv("SURREAL_DB"),
		RedisURL:           getenv("REDIS_URL"),
		BusDriver:          strings.ToLower(r.str("BUS_DRIVER", BusNone)),
		TracingEnabled:     r.boolean("TRACING_ENABLED", false),
		TracingServiceName: r.str("TRACING_SERVICE_NAME", "chat-relay"),
		ZipkinURL:          r.str("ZIPKIN_URL", "http://localhost:9411/api/v2/spans"),
		PingInterval:       r.duration("STORE_PING_INTERVAL", time.Minute),
		RetryMax:           r.integer("STORE_RETRY_MAX", 5),
		RetryBase:          r.duration("STORE_RETRY_BASE", time.Second),
		RetryCap:           r.duration("STORE_RETRY_CAP", 5*time.Second),
		RateLimit:          r.float("RATE_LIMIT", 20),
		AllowedOrigins:     r.list("ALLOWED_ORIGINS", []string{"*"}),
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Port))
	}

	switch c.StoreDriver {
	case StoreSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	case StoreFile:
		if c.StoreFile == "" {
			errs = append(errs, errors.New("STORE_FILE is required for the file store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.BusDriver {
	case BusNone, BusMemory:
	case BusRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver))
	}

	if c.TracingEnabled && c.ZipkinURL == "" {
		errs = append(errs, errors.New("ZIPKIN_URL is required when TRACING_ENABLED is set"))
	}

	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("STORE_PING_INTERVAL must be positive"))
	}
	if c.RetryMax < 0 {
		errs = append(errs, errors.New("STORE_RETRY_MAX must not be negative"))
	}
	if c.RetryBase <= 0 || c.RetryCap < c.RetryBase {
		errs = append(errs, errors.New("STORE_RETRY_BASE must be positive and not exceed STORE_RETRY_CAP"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT must be positive"))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must not be empty"))
	}

	return errors.Join(errs...)
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// reader collects parse errors so FromEnv can report them together.
type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) float(key string, def float64) float64 {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v := strings.TrimSpace(r.getenv(key))
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

func (r *reader) err() error {
	return errors.Join(r.errs...)
}
