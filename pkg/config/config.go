// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Build, Search, Manifest, etc.).
package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Build     BuildConfig     `yaml:"build"`
	Search    SearchConfig    `yaml:"search"`
	Manifest  ManifestConfig  `yaml:"manifest"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`

	// RateLimit is the number of API requests a client may make per
	// minute; 0 disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`

	// AdminToken guards index reloads. Empty disables the admin endpoints.
	AdminToken string `yaml:"adminToken"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing and consumption.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexPublished  string `yaml:"indexPublished"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters. An empty
// address disables the result cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// BuildConfig controls where and how content domains are indexed.
type BuildConfig struct {
	OutputDir   string         `yaml:"outputDir"`
	Concurrency int            `yaml:"concurrency"`
	Domains     []DomainConfig `yaml:"domains"`
}

// Domain returns the domain named name.
func (b BuildConfig) Domain(name string) (DomainConfig, bool) {
	for _, d := range b.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return DomainConfig{}, false
}

// DomainConfig describes one content domain (docs, blog, tutorial...). Boosts
// maps a relname path prefix to a document boost.
type DomainConfig struct {
	Name    string             `yaml:"name"`
	Records string             `yaml:"records"`
	Boosts  map[string]float64 `yaml:"boosts"`
}

// SearchConfig controls query limits, field boosts and the indexes served.
type SearchConfig struct {
	DefaultLimit int                `yaml:"defaultLimit"`
	MaxResults   int                `yaml:"maxResults"`
	FieldBoosts  map[string]float64 `yaml:"fieldBoosts"`
	Indexes      []IndexConfig      `yaml:"indexes"`
	LoadTimeout  time.Duration      `yaml:"loadTimeout"`
}

// IndexConfig names an index and where to load it from. Path is a file path
// or an http(s) URL; when empty the path is resolved through the manifest.
type IndexConfig struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// ManifestConfig toggles the PostgreSQL build manifest.
type ManifestConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AnalyticsConfig controls how search events are buffered and published
// and how often aggregated stats are snapshotted to PostgreSQL. A zero
// SnapshotInterval disables snapshots.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
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

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Build.Domains))
	for _, d := range c.Build.Domains {
		if d.Name == "" {
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "build domain without a name")
		}
		if seen[d.Name] {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "build domain %q declared twice", d.Name)
		}
		seen[d.Name] = true
	}
	for _, idx := range c.Search.Indexes {
		if idx.ID == "" {
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "search index without an id")
		}
		if idx.Path == "" && !c.Manifest.Enabled {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "search index %q has no path and the manifest is disabled", idx.ID)
		}
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"search limits: defaultLimit %d, maxResults %d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  5 * time.Second,
			RateLimit:       600,
			CORSOrigins:     []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "sitesearch",
			User:            "sitesearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "sitesearch",
			Topics: KafkaTopics{
				IndexPublished:  "index.published",
				AnalyticsEvents: "search.analytics",
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Build: BuildConfig{
			OutputDir:   "build/search",
			Concurrency: 2,
		},
		Search: SearchConfig{
			DefaultLimit: 20,
			MaxResults:   100,
			FieldBoosts: map[string]float64{
				"index": 5,
				"name":  3,
				"title": 2,
				"type":  0.5,
			},
			LoadTimeout: 30 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BufferSize:    10000,
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
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

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SS_SERVER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("SS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SS_BUILD_OUTPUT_DIR"); v != "" {
		cfg.Build.OutputDir = v
	}
	if v := os.Getenv("SS_MANIFEST_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Manifest.Enabled = enabled
		}
	}
	if v := os.Getenv("SS_ANALYTICS_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analytics.SnapshotInterval = d
		}
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
