// Package config defines service configuration and its defaults.
package config

import (
	"runtime"
	"time"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Catalog SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the completed-ranking queue.
	EventQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of standings workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the request-id cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxStandingsLimit caps GET /standings?limit.
	MaxStandingsLimit int `koanf:"max_standings_limit"`
	// QualifyCutoff is how many entries per semi-final qualify.
	QualifyCutoff int `koanf:"qualify_cutoff"`
	// PointsPerPlace is the community points table, best place first.
	PointsPerPlace []int `koanf:"points_per_place"`

	// SessionStore is memory or redis.
	SessionStore string `koanf:"session_store"`
	// RedisURL is used when SessionStore is redis.
	RedisURL string `koanf:"redis_url"`
	// SessionTTL expires idle sessions. Zero keeps them forever.
	SessionTTL time.Duration `koanf:"session_ttl"`

	// CatalogDriver is sqlite or postgres.
	CatalogDriver string `koanf:"catalog_driver"`
	// CatalogDSN is passed to sql.Open.
	CatalogDSN string `koanf:"catalog_dsn"`
	// CatalogFixture optionally seeds the catalog from a YAML file at startup.
	CatalogFixture string `koanf:"catalog_fixture"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		EventQueueSize:    10_000,
		WorkerCount:       runtime.NumCPU(),
		DedupeSize:        100_000,
		MaxStandingsLimit: 100,
		QualifyCutoff:     10,
		PointsPerPlace:    []int{12, 10, 8, 7, 6, 5, 4, 3, 2, 1},
		SessionStore:      StoreMemory,
		RedisURL:          "redis://localhost:6379/0",
		SessionTTL:        24 * time.Hour,
		CatalogDriver:     DriverSQLite,
		CatalogDSN:        "file:songrank.db?_pragma=busy_timeout(5000)",
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.EventQueueSize < 1:
		return invalid("queue_size must be positive")
	case c.WorkerCount < 1:
		return invalid("worker_count must be positive")
	case c.MaxStandingsLimit < 1:
		return invalid("max_standings_limit must be positive")
	case c.QualifyCutoff < 1:
		return invalid("qualify_cutoff must be positive")
	case c.SessionTTL < 0:
		return invalid("session_ttl must not be negative")
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return invalid("redis_url is required for the redis session store")
		}
	default:
		return invalid("unknown session_store " + c.SessionStore)
	}
	switch c.CatalogDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return invalid("unknown catalog_driver " + c.CatalogDriver)
	}
	if c.CatalogDSN == "" {
		return invalid("catalog_dsn must not be empty")
	}
	return nil
}
