// Package testenv starts disposable Postgres (with pgvector) and Redis
// containers for integration tests. Tests using it carry the
// "integration" build tag and need a Docker daemon.
package testenv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// Config holds container images and credentials.
type Config struct {
	PostgresImage  string
	PostgresDB     string
	PostgresUser   string
	PostgresPass   string
	RedisImage     string
	StartupTimeout time.Duration
}

// DefaultConfig returns the images used by the integration suite.
func DefaultConfig() Config {
	return Config{
		PostgresImage:  "pgvector/pgvector:pg16",
		PostgresDB:     "finance",
		PostgresUser:   "finance",
		PostgresPass:   "finance",
		RedisImage:     "redis:7-alpine",
		StartupTimeout: 60 * time.Second,
	}
}

// Env holds the running containers and how to reach them.
type Env struct {
	postgres *postgres.PostgresContainer
	redis    *redis.RedisContainer

	// PostgresDSN is a lib/pq connection string.
	PostgresDSN string
	// RedisAddr is host:port.
	RedisAddr string

	config Config
	logger *slog.Logger
}

// New returns an Env with nothing started.
func New(config Config, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{config: config, logger: logger.With("component", "testenv")}
}

// StartPostgres starts Postgres and enables the vector extension.
func (e *Env) StartPostgres(ctx context.Context) error {
	e.logger.Info("starting postgres container", "image", e.config.PostgresImage)

	container, err := postgres.Run(ctx,
		e.config.PostgresImage,
		postgres.WithDatabase(e.config.PostgresDB),
		postgres.WithUsername(e.config.PostgresUser),
		postgres.WithPassword(e.config.PostgresPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(e.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start postgres container: %w", err)
	}
	e.postgres = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	e.PostgresDSN = dsn

	db, err := e.OpenPostgres(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

// StartRedis starts Redis.
func (e *Env) StartRedis(ctx context.Context) error {
	e.logger.Info("starting redis container", "image", e.config.RedisImage)

	container, err := redis.Run(ctx,
		e.config.RedisImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(e.config.StartupTimeout),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start redis container: %w", err)
	}
	e.redis = container

	raw, err := container.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis connection string: %w", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	e.RedisAddr = u.Host
	return nil
}

// OpenPostgres opens and pings a pool against the started container.
func (e *Env) OpenPostgres(ctx context.Context) (*sql.DB, error) {
	if e.PostgresDSN == "" {
		return nil, errors.New("postgres container not started")
	}
	db, err := sql.Open("postgres", e.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Cleanup terminates every started container.
func (e *Env) Cleanup(ctx context.Context) error {
	var errs []error
	if e.postgres != nil {
		if err := e.postgres.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate postgres: %w", err))
		}
	}
	if e.redis != nil {
		if err := e.redis.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
