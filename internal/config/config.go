// Package config loads redlite's configuration from file, environment, and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageBackend selects the page-store implementation.
type StorageBackend string

const (
	// BackendSQLite is the embedded, single-node page store (default).
	BackendSQLite StorageBackend = "sqlite"
	// BackendPostgres is the shared-instance "Standard" profile page store.
	BackendPostgres StorageBackend = "postgres"
)

// EvictionPolicy names a maxmemory/maxdisk eviction policy (spec.md §4.E).
type EvictionPolicy string

const (
	PolicyNoEviction    EvictionPolicy = "noeviction"
	PolicyAllKeysLRU    EvictionPolicy = "allkeys-lru"
	PolicyAllKeysLFU    EvictionPolicy = "allkeys-lfu"
	PolicyAllKeysRandom EvictionPolicy = "allkeys-random"
	PolicyVolatileLRU   EvictionPolicy = "volatile-lru"
	PolicyVolatileLFU   EvictionPolicy = "volatile-lfu"
	PolicyVolatileTTL   EvictionPolicy = "volatile-ttl"
	PolicyVolatileRandom EvictionPolicy = "volatile-random"
)

// Config is the top-level configuration for redlite, embedded or server mode.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Eviction   EvictionConfig   `mapstructure:"eviction"`
	Vacuum     VacuumConfig     `mapstructure:"vacuum"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Databases  int              `mapstructure:"databases"`
	Password   string           `mapstructure:"password"`
}

// StorageConfig controls the page store (§4.A).
type StorageConfig struct {
	Backend     StorageBackend `mapstructure:"backend"`
	Path        string         `mapstructure:"path"` // ":memory:" or a file path
	CachePages  int            `mapstructure:"cache_pages"`
	PostgresDSN string         `mapstructure:"postgres_dsn"`
}

// ServerConfig controls the TCP RESP server and connection scheduler.
type ServerConfig struct {
	Addr                    string        `mapstructure:"addr"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	MaxConnections          int           `mapstructure:"max_connections"`
	PollInterval            time.Duration `mapstructure:"poll_interval"` // embedded-mode blocking poll
	AdminAddr               string        `mapstructure:"admin_addr"`    // MEMORY/metrics/ws introspection
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// EvictionConfig controls maxmemory/maxdisk enforcement (§4.E).
type EvictionConfig struct {
	MaxMemoryBytes int64          `mapstructure:"maxmemory"`
	MaxDiskBytes   int64          `mapstructure:"maxdisk"`
	Policy         EvictionPolicy `mapstructure:"maxmemory_policy"`
	SampleSize     int            `mapstructure:"sample_size"`
}

// VacuumConfig controls the autovacuum sweeper (§4.E).
type VacuumConfig struct {
	Enabled  bool          `mapstructure:"autovacuum"`
	Interval time.Duration `mapstructure:"autovacuum_interval"`
}

// HistoryConfig controls the version-history tracker (§4.I).
type HistoryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RetentionCount  int           `mapstructure:"retention_count"`
	RetentionWindow time.Duration `mapstructure:"retention_window"`
	L1CacheSize     int           `mapstructure:"l1_cache_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from an optional file path, environment variables prefixed
// REDLITE_, and defaults, in that order of increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REDLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", string(BackendSQLite))
	v.SetDefault("storage.path", "redlite.db")
	v.SetDefault("storage.cache_pages", 2000)

	v.SetDefault("server.addr", ":6380")
	v.SetDefault("server.read_timeout", 0)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.graceful_shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_connections", 10000)
	v.SetDefault("server.poll_interval", 20*time.Millisecond)
	v.SetDefault("server.admin_addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("eviction.maxmemory", int64(0))
	v.SetDefault("eviction.maxdisk", int64(0))
	v.SetDefault("eviction.maxmemory_policy", string(PolicyNoEviction))
	v.SetDefault("eviction.sample_size", 5)

	v.SetDefault("vacuum.autovacuum", true)
	v.SetDefault("vacuum.autovacuum_interval", 1*time.Second)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.retention_count", 100)
	v.SetDefault("history.l1_cache_size", 1024)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9121")

	v.SetDefault("databases", 16)
}

// Validate rejects configurations that cannot be started.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}

	if c.Storage.Backend == BackendPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required when storage.backend=postgres")
	}

	switch c.Eviction.Policy {
	case PolicyNoEviction, PolicyAllKeysLRU, PolicyAllKeysLFU, PolicyAllKeysRandom,
		PolicyVolatileLRU, PolicyVolatileLFU, PolicyVolatileTTL, PolicyVolatileRandom:
	default:
		return fmt.Errorf("invalid eviction.maxmemory_policy %q", c.Eviction.Policy)
	}

	if c.Vacuum.Enabled && c.Vacuum.Interval < time.Millisecond {
		return fmt.Errorf("vacuum.autovacuum_interval must be >= 1ms")
	}

	if c.Databases <= 0 {
		return fmt.Errorf("databases must be >= 1")
	}

	return nil
}
