package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	HTTP  HTTPConfig
	DB    DBConfig
	Redis RedisConfig
	NATS  NATSConfig
}

type HTTPConfig struct {
	Addr              string        `env:"TODO_API_ADDR" env-default:":3000"`
	AllowedOrigin     string        `env:"CORS_ALLOWED_ORIGIN" env-default:"*"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type DBConfig struct {
	URL               string        `env:"DATABASE_URL" env-required:"true"`
	MinConns          int           `env:"DB_MIN_CONNS" env-default:"0"`
	MaxConns          int           `env:"DB_MAX_CONNS" env-default:"5"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" env-default:"30m"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" env-default:"5m"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" env-default:"30s"`
}

// RedisConfig enables the list cache when Addr is set. An empty Addr means
// every list request goes straight to Postgres.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR" env-default:""`
	Password string        `env:"REDIS_PASSWORD" env-default:""`
	DB       int           `env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `env:"REDIS_CACHE_TTL" env-default:"60s"`
}

// NATSConfig enables the change feed when URL is set.
type NATSConfig struct {
	URL            string        `env:"NATS_URL" env-default:""`
	ConnectTimeout time.Duration `env:"NATS_CONNECT_TIMEOUT" env-default:"20s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	return cfg, nil
}
