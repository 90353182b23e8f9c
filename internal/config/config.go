// Package config loads service settings from defaults, an optional YAML
// file and STOCK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Local   LocalConfig   `yaml:"local"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Picking PickingConfig `yaml:"picking"`
	Drafts  DraftConfig   `yaml:"drafts"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type StoreConfig struct {
	// Driver is "memory" or "mysql".
	Driver          string        `yaml:"driver"`
	MySQLDSN        string        `yaml:"mysql_dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Addr empty means counters and guards stay in-process.
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

type LocalConfig struct {
	// Backend is "pebble", "badger" or "memory".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	Workers int    `yaml:"workers"`
	Queue   int    `yaml:"queue"`
}

type PickingConfig struct {
	CommitTimeout time.Duration `yaml:"commit_timeout"`
	GuardTTL      time.Duration `yaml:"guard_ttl"`
}

type DraftConfig struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		Store: StoreConfig{
			Driver:          "memory",
			MySQLDSN:        "root:root@tcp(localhost:3306)/stockorders?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{PoolSize: 100},
		Local: LocalConfig{Backend: "pebble", Dir: "data/local"},
		Kafka: KafkaConfig{Topic: "order-events", Workers: 4, Queue: 1000},
		Picking: PickingConfig{
			CommitTimeout: 15 * time.Second,
			GuardTTL:      30 * time.Second,
		},
		Drafts:    DraftConfig{Enabled: true, Delay: time.Second},
		Telemetry: TelemetryConfig{ServiceName: "stock-orders"},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the effective config: defaults, then path (if not empty),
// then .env and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", cleanPath, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", cleanPath, err)
	}
	return nil
}

// LoadFromEnv applies STOCK_* variables. A .env file in the working
// directory is read first when present; real environment variables win.
func (c *Config) LoadFromEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	setString(&c.HTTPAddr, "STOCK_HTTP_ADDR")
	setString(&c.GRPCAddr, "STOCK_GRPC_ADDR")

	setString(&c.Store.Driver, "STOCK_STORE_DRIVER")
	setString(&c.Store.MySQLDSN, "STOCK_MYSQL_DSN")
	if err := setInt(&c.Store.MaxOpenConns, "STOCK_MYSQL_MAX_OPEN_CONNS"); err != nil {
		return err
	}

	setString(&c.Redis.Addr, "STOCK_REDIS_ADDR")

	setString(&c.Local.Backend, "STOCK_LOCAL_BACKEND")
	setString(&c.Local.Dir, "STOCK_LOCAL_DIR")

	setString(&c.Kafka.Brokers, "STOCK_KAFKA_BROKERS")
	setString(&c.Kafka.Topic, "STOCK_KAFKA_TOPIC")
	if err := setInt(&c.Kafka.Workers, "STOCK_KAFKA_WORKERS"); err != nil {
		return err
	}

	if err := setDuration(&c.Picking.CommitTimeout, "STOCK_PICK_COMMIT_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Picking.GuardTTL, "STOCK_PICK_GUARD_TTL"); err != nil {
		return err
	}
	if v := os.Getenv("STOCK_DRAFTS_ENABLED"); v != "" {
		c.Drafts.Enabled = parseBool(v)
	}
	if err := setDuration(&c.Drafts.Delay, "STOCK_DRAFT_DELAY"); err != nil {
		return err
	}

	if v := os.Getenv("STOCK_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("STOCK_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}

	setString(&c.Log.Level, "STOCK_LOG_LEVEL")
	setString(&c.Log.Format, "STOCK_LOG_FORMAT")
	return nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.MySQLDSN == "" {
			return fmt.Errorf("mysql driver needs a DSN: %w", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("unknown store driver %q: %w", c.Store.Driver, ErrInvalidConfiguration)
	}

	switch c.Local.Backend {
	case "memory":
	case "pebble", "badger":
		if c.Local.Dir == "" {
			return fmt.Errorf("%s backend needs a directory: %w", c.Local.Backend, ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("unknown local backend %q: %w", c.Local.Backend, ErrInvalidConfiguration)
	}

	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set: %w", ErrInvalidConfiguration)
	}
	if c.Picking.CommitTimeout < 0 || c.Picking.GuardTTL < 0 || c.Drafts.Delay < 0 {
		return fmt.Errorf("durations must not be negative: %w", ErrInvalidConfiguration)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, ErrInvalidConfiguration)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, ErrInvalidConfiguration)
	}
	*dst = d
	return nil
}

// parseBool accepts "true", "1", "yes" and "on", case-insensitive.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
