// Package config loads service configuration from an optional .env file, an
// optional YAML file and HMS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Refresh token backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const minSecretLength = 32

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// AuthConfig holds token and credential settings.
type AuthConfig struct {
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	AccessTTL      time.Duration `yaml:"access_ttl"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl"`
	BcryptCost     int           `yaml:"bcrypt_cost"`
	RefreshBackend string        `yaml:"refresh_backend"`
	StoreTimeout   time.Duration `yaml:"store_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BootstrapConfig describes the super administrator ensured at startup. It is
// skipped when Email is empty.
type BootstrapConfig struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// Load builds the configuration. A missing .env is ignored; path may be empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with development defaults. The signing secret is
// left empty and must be provided.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "hmsauth",
		},
		AMQP: AMQPConfig{Queue: "auth.events"},
		Auth: AuthConfig{
			Issuer:         "hmsauth",
			AccessTTL:      15 * time.Minute,
			RefreshTTL:     7 * 24 * time.Hour,
			BcryptCost:     bcrypt.DefaultCost,
			RefreshBackend: BackendMemory,
			StoreTimeout:   5 * time.Second,
			SweepInterval:  time.Hour,
		},
		RateLimit: RateLimitConfig{PerSecond: 5, Burst: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}

	setString("HMS_HTTP_ADDR", &cfg.HTTP.Addr)
	setString("HMS_GRPC_ADDR", &cfg.GRPC.Addr)
	setString("HMS_PG_DSN", &cfg.Postgres.DSN)
	setString("HMS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("HMS_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("HMS_REDIS_DB", &cfg.Redis.DB)
	setString("HMS_AMQP_URL", &cfg.AMQP.URL)
	setString("HMS_AMQP_QUEUE", &cfg.AMQP.Queue)

	setString("HMS_AUTH_SECRET", &cfg.Auth.Secret)
	setString("HMS_AUTH_ISSUER", &cfg.Auth.Issuer)
	setDuration("HMS_AUTH_ACCESS_TTL", &cfg.Auth.AccessTTL)
	setDuration("HMS_AUTH_REFRESH_TTL", &cfg.Auth.RefreshTTL)
	setInt("HMS_AUTH_BCRYPT_COST", &cfg.Auth.BcryptCost)
	setString("HMS_AUTH_REFRESH_BACKEND", &cfg.Auth.RefreshBackend)
	setDuration("HMS_AUTH_STORE_TIMEOUT", &cfg.Auth.StoreTimeout)
	setDuration("HMS_AUTH_SWEEP_INTERVAL", &cfg.Auth.SweepInterval)

	if v, ok := os.LookupEnv("HMS_RATE_LIMIT_PER_SECOND"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("HMS_RATE_LIMIT_PER_SECOND: %v", err))
		} else {
			cfg.RateLimit.PerSecond = f
		}
	}
	setInt("HMS_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)

	setString("HMS_LOG_LEVEL", &cfg.Logging.Level)
	setString("HMS_LOG_FORMAT", &cfg.Logging.Format)

	setString("HMS_BOOTSTRAP_EMAIL", &cfg.Bootstrap.Email)
	setString("HMS_BOOTSTRAP_PASSWORD", &cfg.Bootstrap.Password)
	setString("HMS_BOOTSTRAP_FIRST_NAME", &cfg.Bootstrap.FirstName)
	setString("HMS_BOOTSTRAP_LAST_NAME", &cfg.Bootstrap.LastName)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required (set HMS_AUTH_SECRET)")
	} else if len(c.Auth.Secret) < minSecretLength {
		errs = append(errs, fmt.Sprintf("auth.secret must be at least %d bytes", minSecretLength))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, "auth.access_ttl must be positive")
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		errs = append(errs, "auth.refresh_ttl must be longer than auth.access_ttl")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Sprintf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Auth.StoreTimeout <= 0 {
		errs = append(errs, "auth.store_timeout must be positive")
	}
	if c.Auth.SweepInterval <= 0 {
		errs = append(errs, "auth.sweep_interval must be positive")
	}

	switch c.Auth.RefreshBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.refresh_backend must be one of memory, postgres, redis (got %q)", c.Auth.RefreshBackend))
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, "rate_limit.per_second and rate_limit.burst must be positive")
	}
	if c.Bootstrap.Email != "" && c.Bootstrap.Password == "" {
		errs = append(errs, "bootstrap.password is required when bootstrap.email is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
