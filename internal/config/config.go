package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/pricing"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PathEnv names the optional YAML file read before environment overrides.
const PathEnv = "STOREFRONT_CONFIG"

type Config struct {
	ServiceName     string        `yaml:"service_name"`
	HTTPPort        string        `yaml:"http_port"`
	GRPCPort        string        `yaml:"grpc_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body"`
	AdminToken      string        `yaml:"admin_token"`
	LogLevel        string        `yaml:"log_level"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// RateLimitConfig caps cart and checkout mutations per identity.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type PricingConfig struct {
	FreeDeliveryThreshold decimal.Decimal `yaml:"free_delivery_threshold"`
	DeliveryCharge        decimal.Decimal `yaml:"delivery_charge"`
}

type CatalogConfig struct {
	SQLitePath     string        `yaml:"sqlite_path"`
	MigrationsPath string        `yaml:"migrations_path"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
	MaxFailures    uint32        `yaml:"max_failures"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	GuestTTL time.Duration `yaml:"guest_ttl"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"db_name"`
	SSLMode        string `yaml:"ssl_mode"`
	MigrationsPath string `yaml:"migrations_path"`
}

type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	GroupID        string        `yaml:"group_id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BatchSize      int           `yaml:"batch_size"`
	ConsumeEnabled bool          `yaml:"consume_enabled"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Default() *Config {
	return &Config{
		ServiceName:     "storefront",
		HTTPPort:        "8080",
		GRPCPort:        "50051",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxRequestBody:  1 << 20, // 1MB
		LogLevel:        "info",
		RateLimit:       RateLimitConfig{PerSecond: 5, Burst: 10},
		Pricing: PricingConfig{
			FreeDeliveryThreshold: pricing.DefaultFreeDeliveryThreshold,
			DeliveryCharge:        pricing.DefaultDeliveryCharge,
		},
		Catalog: CatalogConfig{
			SQLitePath:     "./data/catalog.db",
			MigrationsPath: "internal/catalog/migrations",
			CallTimeout:    2 * time.Second,
			OpenTimeout:    30 * time.Second,
			MaxFailures:    5,
		},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "cartdb"},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			GuestTTL: 7 * 24 * time.Hour,
			CacheTTL: 15 * time.Minute,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "postgres",
			DBName:         "orders",
			SSLMode:        "disable",
			MigrationsPath: "internal/order/repository/migrations",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "storefront-orders",
			GroupID:        "storefront-cart-cleanup",
			PollInterval:   time.Second,
			BatchSize:      100,
			ConsumeEnabled: true,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			Environment: "development",
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// STOREFRONT_CONFIG, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(PathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.GRPCPort = getEnv("GRPC_PORT", c.GRPCPort)
	c.AdminToken = getEnv("ADMIN_TOKEN", c.AdminToken)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Catalog.SQLitePath = getEnv("SQLITE_PATH", c.Catalog.SQLitePath)
	c.Catalog.MigrationsPath = getEnv("CATALOG_MIGRATIONS_PATH", c.Catalog.MigrationsPath)

	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DB_NAME", c.Mongo.Database)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.DBName = getEnv("DB_NAME", c.Postgres.DBName)
	c.Postgres.SSLMode = getEnv("DB_SSLMODE", c.Postgres.SSLMode)
	c.Postgres.MigrationsPath = getEnv("ORDERS_MIGRATIONS_PATH", c.Postgres.MigrationsPath)
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT %q: %w", v, err)
		}
		c.Postgres.Port = port
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OTEL_ENABLED %q: %w", v, err)
		}
		c.Tracing.Enabled = enabled
	}
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Environment = getEnv("APP_ENV", c.Tracing.Environment)
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate_limit needs a positive rate and burst"))
	}
	if c.Pricing.FreeDeliveryThreshold.IsNegative() || c.Pricing.DeliveryCharge.IsNegative() {
		errs = append(errs, errors.New("pricing amounts must not be negative"))
	}
	if c.Catalog.SQLitePath == "" {
		errs = append(errs, errors.New("catalog.sqlite_path is required"))
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		errs = append(errs, errors.New("mongo uri and database are required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Redis.GuestTTL <= 0 {
		errs = append(errs, errors.New("redis.guest_ttl must be positive"))
	}
	if c.Postgres.Host == "" || c.Postgres.DBName == "" {
		errs = append(errs, errors.New("postgres host and db_name are required"))
	}
	if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
		errs = append(errs, fmt.Errorf("postgres.port %d out of range", c.Postgres.Port))
	}
	if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka brokers and topic are required"))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
