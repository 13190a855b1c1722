// Package config loads service configuration from defaults, an optional
// YAML file, an optional .env file and the process environment, in that
// order of increasing priority.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/validation"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Lambda      Environment = "lambda"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config is the root configuration.
type Config struct {
	Environment   Environment   `yaml:"environment" validate:"required,oneof=development staging production lambda"`
	ServiceName   string        `yaml:"service_name" validate:"required"`
	Version       string        `yaml:"version"`
	Server        Server        `yaml:"server"`
	Storage       Storage       `yaml:"storage"`
	Graph         Graph         `yaml:"graph"`
	Cache         Cache         `yaml:"cache"`
	Sessions      Sessions      `yaml:"sessions"`
	Events        Events        `yaml:"events"`
	Observability Observability `yaml:"observability"`
	Breaker       Breaker       `yaml:"breaker"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	Debug           bool          `yaml:"debug"`
}

// Addr is the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Storage struct {
	Backend  string   `yaml:"backend" validate:"oneof=sqlite dynamodb"`
	SQLite   SQLite   `yaml:"sqlite"`
	DynamoDB DynamoDB `yaml:"dynamodb"`
}

type SQLite struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

type DynamoDB struct {
	TableName        string `yaml:"table_name"`
	IndexName        string `yaml:"index_name"`
	ReverseIndexName string `yaml:"reverse_index_name"`
	Region           string `yaml:"region"`
	Endpoint         string `yaml:"endpoint"`
}

// Graph configures root resolution and export scope.
type Graph struct {
	StartSemanticID string `yaml:"start_semantic_id" validate:"required"`
	StartCategory   string `yaml:"start_category" validate:"required"`
	RootSuffix      string `yaml:"root_suffix" validate:"required"`
	// StartText is the prompt of the global start node when it is created.
	StartText string `yaml:"start_text" validate:"required"`
	// ExportExcluded categories are skipped by export-all.
	ExportExcluded []string `yaml:"export_excluded"`
}

type CacheKind struct {
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
	MaxEntries int           `yaml:"max_entries" validate:"min=1"`
}

type Cache struct {
	IssueList       CacheKind     `yaml:"issue_list"`
	FlattenedTree   CacheKind     `yaml:"flattened_tree"`
	EditorGraph     CacheKind     `yaml:"editor_graph"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

type Sessions struct {
	// AbandonAfter is the idle time after which the sweeper abandons a session.
	AbandonAfter  time.Duration `yaml:"abandon_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch"`
}

type Events struct {
	EventBridgeEnabled bool   `yaml:"eventbridge_enabled"`
	EventBusName       string `yaml:"event_bus_name"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"min=0,max=1"`
}

type Observability struct {
	LogLevel         string  `yaml:"log_level"`
	MetricsNamespace string  `yaml:"metrics_namespace"`
	Tracing          Tracing `yaml:"tracing"`
}

type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"min=0,max=1"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		ServiceName: "troubleshooting-api",
		Version:     "dev",
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Storage: Storage{
			Backend: BackendSQLite,
			SQLite: SQLite{
				Path:         "troubleshooting.db",
				MaxOpenConns: 4,
				BusyTimeout:  5 * time.Second,
			},
			DynamoDB: DynamoDB{
				TableName:        "troubleshooting",
				IndexName:        "GSI1",
				ReverseIndexName: "GSI2",
				Region:           "us-east-1",
			},
		},
		Graph: Graph{
			StartSemanticID: "start",
			StartCategory:   "root",
			RootSuffix:      "_start",
			StartText:       "What type of issue are you experiencing?",
			ExportExcluded:  []string{"root", "electrical", "general", "mechanical"},
		},
		Cache: Cache{
			IssueList:       CacheKind{TTL: 5 * time.Minute, MaxEntries: 10},
			FlattenedTree:   CacheKind{TTL: 10 * time.Minute, MaxEntries: 50},
			EditorGraph:     CacheKind{TTL: 10 * time.Minute, MaxEntries: 50},
			JanitorInterval: time.Minute,
		},
		Sessions: Sessions{
			AbandonAfter:  time.Hour,
			SweepInterval: 5 * time.Minute,
			SweepBatch:    100,
		},
		Observability: Observability{
			LogLevel:         "info",
			MetricsNamespace: "troubleshooting",
			Tracing:          Tracing{SampleRatio: 1},
		},
		Breaker: Breaker{
			Enabled:          true,
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

// Load builds a Config. path names an optional YAML file; an empty path
// falls back to CONFIG_FILE. A .env file in the working directory is
// loaded into the environment when present.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = []string{"defaults"}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err == nil {
		cfg.LoadedFrom = append(cfg.LoadedFrom, ".env")
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	c.LoadedFrom = append(c.LoadedFrom, path)
	return nil
}

func (c *Config) applyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}

	if v := os.Getenv("APP_ENV"); v != "" {
		c.Environment = Environment(strings.ToLower(v))
	}
	str("SERVICE_NAME", &c.ServiceName)
	str("SERVICE_VERSION", &c.Version)

	str("SERVER_HOST", &c.Server.Host)
	integer("SERVER_PORT", &c.Server.Port)
	boolean("DEBUG", &c.Server.Debug)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("SQLITE_PATH", &c.Storage.SQLite.Path)
	str("TABLE_NAME", &c.Storage.DynamoDB.TableName)
	str("INDEX_NAME", &c.Storage.DynamoDB.IndexName)
	str("AWS_REGION", &c.Storage.DynamoDB.Region)
	str("DYNAMODB_ENDPOINT", &c.Storage.DynamoDB.Endpoint)

	duration("SESSION_ABANDON_AFTER", &c.Sessions.AbandonAfter)
	duration("SESSION_SWEEP_INTERVAL", &c.Sessions.SweepInterval)

	boolean("EVENTBRIDGE_ENABLED", &c.Events.EventBridgeEnabled)
	str("EVENT_BUS_NAME", &c.Events.EventBusName)

	str("LOG_LEVEL", &c.Observability.LogLevel)
	boolean("TRACING_ENABLED", &c.Observability.Tracing.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Observability.Tracing.Endpoint)

	boolean("CIRCUIT_BREAKER_ENABLED", &c.Breaker.Enabled)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.TableName == "" {
			return fmt.Errorf("storage.dynamodb.table_name is required")
		}
	}
	if c.Events.EventBridgeEnabled && c.Events.EventBusName == "" {
		return fmt.Errorf("events.event_bus_name is required when EventBridge is enabled")
	}
	if c.Observability.Tracing.Enabled && c.Observability.Tracing.Endpoint == "" {
		return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// IsProduction reports whether the service runs in production or Lambda.
func (c *Config) IsProduction() bool {
	return c.Environment == Production || c.Environment == Lambda
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
