// Package config loads and validates service configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, KeyIndex, Snapshot, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	KeyIndex KeyIndexConfig `yaml:"keyIndex"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the snapshot
// registry.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ChunkBatches     string `yaml:"chunkBatches"`
	SnapshotComplete string `yaml:"snapshotComplete"`
}

// RedisConfig holds Redis connection parameters for the Redis snapshot store.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// KeyIndexConfig selects the indexer backend and sizes its buffers.
type KeyIndexConfig struct {
	Backend         string `yaml:"backend"`
	NumShards       int    `yaml:"numShards"`
	InitialCapacity int    `yaml:"initialCapacity"`
	GrowthChunk     int    `yaml:"growthChunk"`
	ColumnWidth     int    `yaml:"columnWidth"`
}

// SnapshotConfig controls where and how often shard snapshots are written.
// Store is one of "file", "redis" or "none"; Compression one of "none",
// "zstd" or "lz4".
type SnapshotConfig struct {
	Store         string        `yaml:"store"`
	DataDir       string        `yaml:"dataDir"`
	Interval      time.Duration `yaml:"interval"`
	Compression   string        `yaml:"compression"`
	MaxConcurrent int           `yaml:"maxConcurrent"`
	RestoreOnBoot bool          `yaml:"restoreOnBoot"`
	// RegistryKeep is how many registry rows to keep per shard; 0 keeps all.
	RegistryKeep  int           `yaml:"registryKeep"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a validated Config populated with defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "keyindex",
			User:            "keyindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "keyindex-group",
			Topics: KafkaTopics{
				ChunkBatches:     "chunk-batches",
				SnapshotComplete: "keyindex.snapshot",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "keyindex:",
		},
		KeyIndex: KeyIndexConfig{
			Backend:         "columnar",
			NumShards:       4,
			InitialCapacity: 10000,
			GrowthChunk:     10000,
			ColumnWidth:     3,
		},
		Snapshot: SnapshotConfig{
			Store:         "file",
			DataDir:       "data/snapshots",
			Interval:      time.Minute,
			Compression:   "zstd",
			MaxConcurrent: 4,
			RestoreOnBoot: true,
			RegistryKeep:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// MaxColumnWidth mirrors keyindex.MaxColumnWidth.
const MaxColumnWidth = 1 << 16

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.KeyIndex.Backend {
	case "hashmap", "list", "cached", "columnar":
	default:
		return fmt.Errorf("keyIndex.backend: unknown backend %q", c.KeyIndex.Backend)
	}
	if c.KeyIndex.NumShards <= 0 {
		return fmt.Errorf("keyIndex.numShards must be positive, got %d", c.KeyIndex.NumShards)
	}
	if c.KeyIndex.InitialCapacity < 0 {
		return fmt.Errorf("keyIndex.initialCapacity must not be negative, got %d", c.KeyIndex.InitialCapacity)
	}
	if c.KeyIndex.GrowthChunk <= 0 {
		return fmt.Errorf("keyIndex.growthChunk must be positive, got %d", c.KeyIndex.GrowthChunk)
	}
	if c.KeyIndex.ColumnWidth < 2 || c.KeyIndex.ColumnWidth > MaxColumnWidth {
		return fmt.Errorf("keyIndex.columnWidth must be between 2 and %d, got %d", MaxColumnWidth, c.KeyIndex.ColumnWidth)
	}
	switch c.Snapshot.Store {
	case "file":
		if c.Snapshot.DataDir == "" {
			return fmt.Errorf("snapshot.dataDir is required for the file store")
		}
	case "redis", "none":
	default:
		return fmt.Errorf("snapshot.store: unknown store %q", c.Snapshot.Store)
	}
	switch c.Snapshot.Compression {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("snapshot.compression: unknown codec %q", c.Snapshot.Compression)
	}
	if c.Snapshot.RegistryKeep < 0 {
		return fmt.Errorf("snapshot.registryKeep must not be negative, got %d", c.Snapshot.RegistryKeep)
	}
	if c.Snapshot.Store != "none" && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be positive, got %v", c.Snapshot.Interval)
	}
	return nil
}

// applyEnvOverrides reads KI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KI_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("KI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("KI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("KI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("KI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("KI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("KI_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("KI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KI_KEYINDEX_BACKEND"); v != "" {
		cfg.KeyIndex.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("KI_KEYINDEX_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeyIndex.NumShards = n
		}
	}
	if v := os.Getenv("KI_KEYINDEX_GROWTH_CHUNK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeyIndex.GrowthChunk = n
		}
	}
	if v := os.Getenv("KI_SNAPSHOT_STORE"); v != "" {
		cfg.Snapshot.Store = v
	}
	if v := os.Getenv("KI_SNAPSHOT_DATA_DIR"); v != "" {
		cfg.Snapshot.DataDir = v
	}
	if v := os.Getenv("KI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
