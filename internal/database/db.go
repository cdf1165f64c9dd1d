package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/maquinanerd/IAMN/internal/database/migrations"
)

const pingTimeout = 5 * time.Second

// DB is the article store connection pool.
type DB struct {
	*sqlx.DB
	readOnly bool
}

// NewDB opens the article database at cfg.DBPath. Read-write connections
// create the parent directory and apply pending migrations; read-only ones
// do neither.
func NewDB(cfg *Config) (*DB, error) {
	logger := log.With().Str("path", cfg.DBPath).Str("mode", modeName(cfg.ReadOnly)).Logger()

	if !cfg.ReadOnly {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sqlx.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
	conn.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	for _, pragma := range cfg.pragmas() {
		if _, err := conn.Exec(pragma); err != nil {
			logger.Warn().Err(err).Str("pragma", pragma).Msg("Failed to set PRAGMA")
		}
	}

	db := &DB{DB: conn, readOnly: cfg.ReadOnly}
	if !cfg.ReadOnly {
		if err := db.migrate(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().Msg("Database ready")
	return db, nil
}

func (db *DB) migrate() error {
	ms, err := migrations.LoadMigrations(migrations.Files)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if err := migrations.RunMigrations(db.DB, ms); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Rollback reverts the last n applied migrations.
func (db *DB) Rollback(n int) error {
	if db.readOnly {
		return fmt.Errorf("cannot roll back migrations on a read-only connection")
	}
	ms, err := migrations.LoadMigrations(migrations.Files)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	return migrations.RollbackMigrations(db.DB, ms, n)
}

// SchemaVersion returns the newest applied migration, 0 for an empty database.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.Get(&version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func modeName(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
