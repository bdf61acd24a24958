// Package config loads restq settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Prefix = "RESTQ_"

var (
	ErrParsingConfig = errors.New("failed to parse environment variables into config")
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	AppEnv  string  `env:"APP_ENV" envDefault:"development"`
	WebApp  WebApp  `envPrefix:"WEBAPP_"`
	Realms  Realms  `envPrefix:"REALMS_"`
	Storage Storage `envPrefix:"STORAGE_"`
	Log     Log     `envPrefix:"LOG_"`
}

type WebApp struct {
	Addr            string        `env:"ADDR" envDefault:"127.0.0.1:8586"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"4096"`
}

type Realms struct {
	// DefaultLeaseTime is in seconds.
	DefaultLeaseTime int    `env:"DEFAULT_LEASE_TIME" envDefault:"600"`
	ConfigRoot       string `env:"CONFIG_ROOT,expand" envDefault:"${HOME}/.restq"`
	LoadConcurrency  int    `env:"LOAD_CONCURRENCY" envDefault:"8"`
}

type Storage struct {
	Backend         string        `env:"BACKEND" envDefault:"file"`
	PostgresDSN     string        `env:"POSTGRES_DSN"`
	PostgresMaxConn int32         `env:"POSTGRES_MAX_CONNS" envDefault:"4"`
	MigrationsTable string        `env:"MIGRATIONS_TABLE" envDefault:"restq_schema_migrations"`
	RedisURL        string        `env:"REDIS_URL"`
	RedisPrefix     string        `env:"REDIS_PREFIX" envDefault:"restq:"`
	RetryAttempts   int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Client is read by the command line tool.
type Client struct {
	URI     string        `env:"CLIENT_URI" envDefault:"http://localhost:8586/"`
	Count   int           `env:"CLIENT_COUNT" envDefault:"5"`
	Timeout time.Duration `env:"CLIENT_TIMEOUT" envDefault:"10s"`
	Realm   string        `env:"CLI_REALM" envDefault:"default"`
	QueueID string        `env:"CLI_QUEUE_ID" envDefault:"0"`
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

func Load() (Config, error) {
	var c Config
	if err := parse(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return c, nil
}

func LoadClient() (Client, error) {
	var c Client
	if err := parse(&c); err != nil {
		return Client{}, err
	}
	if c.Count <= 0 {
		return Client{}, errors.Join(ErrParsingConfig, fmt.Errorf("%w: client count must be positive", ErrInvalidConfig))
	}
	return c, nil
}

func parse(v any) error {
	// The .env file is optional.
	_ = godotenv.Load()
	if err := env.ParseWithOptions(v, env.Options{Prefix: Prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{BackendFile, BackendPostgres, BackendRedis}, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend))
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("%w: %sSTORAGE_POSTGRES_DSN is required", ErrInvalidConfig, Prefix))
	}
	if c.Storage.Backend == BackendRedis && c.Storage.RedisURL == "" {
		errs = append(errs, fmt.Errorf("%w: %sSTORAGE_REDIS_URL is required", ErrInvalidConfig, Prefix))
	}
	if c.Storage.Backend == BackendFile && c.Realms.ConfigRoot == "" {
		errs = append(errs, fmt.Errorf("%w: %sREALMS_CONFIG_ROOT is required", ErrInvalidConfig, Prefix))
	}
	if c.Realms.DefaultLeaseTime < 0 {
		errs = append(errs, fmt.Errorf("%w: negative default lease time", ErrInvalidConfig))
	}
	if c.WebApp.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("%w: max body bytes must be positive", ErrInvalidConfig))
	}
	if !slices.Contains([]string{"json", "console"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format))
	}
	return errors.Join(errs...)
}

// DefaultLeaseDuration is DefaultLeaseTime as a duration.
func (r Realms) DefaultLeaseDuration() time.Duration {
	return time.Duration(r.DefaultLeaseTime) * time.Second
}
