// Package db opens the SQL database backing the incident repository.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
)

// Supported drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	Driver  string // duckdb (default) or postgres
	DSN     string // overrides the DuckDB file path; required for postgres
	DataDir string
	DBName  string
}

// Get returns the singleton connection.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Open opens a new connection. A DuckDB config without DSN or DataDir is
// in-memory.
func Open(cfg Config) (*sql.DB, error) {
	driver, dsn, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return conn, nil
}

func (cfg Config) resolve() (driver, dsn string, err error) {
	switch cfg.Driver {
	case "", DriverDuckDB:
		if cfg.DSN != "" || cfg.DataDir == "" {
			return DriverDuckDB, cfg.DSN, nil
		}
		// Create duckdb subdirectory
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return "", "", fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "incidents"
		}
		return DriverDuckDB, filepath.Join(duckdbDir, name+".duckdb"), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return "", "", fmt.Errorf("postgres requires a DSN")
		}
		return DriverPostgres, cfg.DSN, nil
	default:
		return "", "", fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Close closes the singleton connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}
