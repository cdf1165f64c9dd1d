package database

import (
	"fmt"
	"time"
)

const (
	defaultMaxIdleConns    = 4
	defaultMaxOpenConns    = 4
	defaultConnMaxLifetime = time.Hour
)

// Config holds database configuration settings
type Config struct {
	// Required settings
	DBPath string

	// Optional settings (will use defaults if not set)
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
	ReadOnly        bool
}

// NewConfig creates a new database configuration with default values
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     -64000, // 64MB
		BusyTimeoutMS:   5000,
	}
}

// NewReadOnlyConfig is NewConfig for API readers that must never write or migrate.
func NewReadOnlyConfig(dbPath string) *Config {
	cfg := NewConfig(dbPath)
	cfg.ReadOnly = true
	return cfg
}

// dsn enables WAL so API readers never block the pipeline writer, and sets
// foreign keys per connection so deletes cascade on every pooled connection.
func (c *Config) dsn() string {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on",
		c.DBPath, c.BusyTimeoutMS)
	if c.ReadOnly {
		dsn += "&mode=ro"
	}
	return dsn
}

func (c *Config) pragmas() []string {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", c.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	if c.ReadOnly {
		return append(pragmas, "PRAGMA query_only = ON;")
	}
	return pragmas
}
