package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLConfig holds connection pool configuration for the finance database.
type SQLConfig struct {
	Driver       string // mysql, postgres or sqlite3
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// SQLDB wraps a database/sql pool and remembers its driver.
type SQLDB struct {
	*sql.DB
	driver string
}

// OpenSQL creates a connection pool. It does not dial; connection failures
// surface on first use so that a down database degrades single requests
// instead of preventing startup.
func OpenSQL(cfg SQLConfig) (*SQLDB, error) {
	switch cfg.Driver {
	case "mysql", "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	return &SQLDB{DB: db, driver: cfg.Driver}, nil
}

// Driver returns the driver name.
func (db *SQLDB) Driver() string {
	return db.driver
}

// Health checks database connectivity.
func (db *SQLDB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
