// Package config loads the relay's YAML configuration file: listen
// address, database backend selection, cache backend selection, and
// worker count. Admin-mutable settings (name, theme, whitelist-enabled,
// ...) live in the store's config table instead, since those change at
// runtime without a restart; see internal/store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DatabaseType selects the SQL store dialect.
type DatabaseType string

const (
	DatabaseSqlite   DatabaseType = "sqlite"
	DatabasePostgres DatabaseType = "postgres"
)

// CacheType selects the KV cache backend.
type CacheType string

const (
	CacheDatabase CacheType = "database"
	CacheRedis    CacheType = "redis"
)

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"pass"`
	Database int    `yaml:"database"`
	Prefix   string `yaml:"prefix"`
}

// Config is the top-level YAML document (§6 of the spec).
type Config struct {
	Domain  string `yaml:"domain"`
	Listen  string `yaml:"listen"`
	Port    int    `yaml:"port"`
	Workers int    `yaml:"workers"`

	DatabaseType DatabaseType   `yaml:"database_type"`
	SqlitePath   string         `yaml:"sqlite_path"`
	Postgres     PostgresConfig `yaml:"pg"`

	CacheType CacheType   `yaml:"cache_type"`
	Redis     RedisConfig `yaml:"redis"`

	// dir is the directory the config file was loaded from, used to
	// resolve sqlite_path relative to the config rather than the
	// process's working directory.
	dir string
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.DatabaseType == "" {
		c.DatabaseType = DatabaseSqlite
	}
	if c.SqlitePath == "" {
		c.SqlitePath = "relay.sqlite3"
	}
	if c.CacheType == "" {
		c.CacheType = CacheDatabase
	}
}

func (c *Config) validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: domain is required")
	}

	switch c.DatabaseType {
	case DatabaseSqlite, DatabasePostgres:
	default:
		return fmt.Errorf("config: database_type must be 'sqlite' or 'postgres', got %q", c.DatabaseType)
	}

	if c.DatabaseType == DatabasePostgres {
		switch {
		case c.Postgres.Host == "":
			return fmt.Errorf("config: pg.host is required when database_type is postgres")
		case c.Postgres.Name == "":
			return fmt.Errorf("config: pg.name is required when database_type is postgres")
		case c.Postgres.User == "":
			return fmt.Errorf("config: pg.user is required when database_type is postgres")
		}
	}

	switch c.CacheType {
	case CacheDatabase, CacheRedis:
	default:
		return fmt.Errorf("config: cache_type must be 'database' or 'redis', got %q", c.CacheType)
	}

	if c.CacheType == CacheRedis {
		if c.Redis.Host == "" {
			return fmt.Errorf("config: redis.host is required when cache_type is redis")
		}
		if strings.Contains(c.Redis.Prefix, ":") {
			return fmt.Errorf("config: redis.prefix must not contain ':'")
		}
	}

	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0")
	}

	return nil
}

// SqliteAbsPath resolves sqlite_path relative to the config file's
// directory, as called for by §6.
func (c *Config) SqliteAbsPath() string {
	if filepath.IsAbs(c.SqlitePath) {
		return c.SqlitePath
	}
	return filepath.Join(c.dir, c.SqlitePath)
}

// PostgresDSN builds a libpq-style connection string from the config.
func (c *Config) PostgresDSN() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s", c.Postgres.Host)
	if c.Postgres.Port != 0 {
		fmt.Fprintf(&b, " port=%d", c.Postgres.Port)
	}
	fmt.Fprintf(&b, " dbname=%s user=%s", c.Postgres.Name, c.Postgres.User)
	if c.Postgres.Pass != "" {
		fmt.Fprintf(&b, " password=%s", c.Postgres.Pass)
	}
	b.WriteString(" sslmode=disable")
	return b.String()
}

// RedisAddr returns the host:port address for the Redis client.
func (c *Config) RedisAddr() string {
	port := c.Redis.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, port)
}

// ListenAddr returns the address Echo should bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// WorkerCount resolves the configured worker count, defaulting to the
// number of CPUs when 0, per §6.
func (c *Config) WorkerCount(numCPU int) int {
	if c.Workers > 0 {
		return c.Workers
	}
	return numCPU
}
