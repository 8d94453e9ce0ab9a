package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Log         LogConfig
	Auth        AuthConfig
	Store       StoreConfig
	Catalog     CatalogConfig
	Cache       CacheConfig
	Events      EventsConfig
	Fulfillment FulfillmentConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	MaxBodyBytes    int64         `envconfig:"SERVER_MAX_BODY_BYTES" default:"4194304"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"autodelivery-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:""` // json, console; empty picks per environment
	Output string `envconfig:"LOG_OUTPUT" default:"stdout"`
}

// AuthConfig holds service-to-service credentials.
type AuthConfig struct {
	APIKeys []string `envconfig:"AUTH_API_KEYS" default:""`
	// AdminKeys unlock buyer erasure and the /admin routes.
	AdminKeys []string `envconfig:"AUTH_ADMIN_KEYS" default:""`
}

// StoreConfig holds fulfillment database settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite or postgres
	Path string `envconfig:"STORE_PATH" default:"./data/fulfillment.db"`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PORT" default:"5432"`
	Name     string `envconfig:"STORE_NAME" default:"fulfillment"`
	User     string `envconfig:"STORE_USER" default:"postgres"`
	Password string `envconfig:"STORE_PASS" default:""`
	SSLMode  string `envconfig:"STORE_SSLMODE" default:"disable"`
}

// CatalogConfig holds MySQL connection settings for the marketplace product catalog.
type CatalogConfig struct {
	Enabled  bool   `envconfig:"CATALOG_DB_ENABLED" default:"false"`
	Host     string `envconfig:"CATALOG_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"CATALOG_DB_PORT" default:"3306"`
	Name     string `envconfig:"CATALOG_DB_NAME" default:"marketplace"`
	User     string `envconfig:"CATALOG_DB_USER" default:"root"`
	Password string `envconfig:"CATALOG_DB_PASS" default:""`
}

// CacheConfig holds stock cache settings.
type CacheConfig struct {
	Type string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// EventsConfig holds seller notification publishing settings.
type EventsConfig struct {
	Type         string        `envconfig:"EVENTS_TYPE" default:"none"` // none, kafka or redis
	KafkaBrokers []string      `envconfig:"EVENTS_KAFKA_BROKERS" default:"localhost:9092"`
	Topic        string        `envconfig:"EVENTS_TOPIC" default:"fulfillment-events"`
	RedisMaxLen  int64         `envconfig:"EVENTS_REDIS_MAX_LEN" default:"10000"`
	Timeout      time.Duration `envconfig:"EVENTS_PUBLISH_TIMEOUT" default:"5s"`
}

// FulfillmentConfig holds allocation and stock settings.
type FulfillmentConfig struct {
	MaxClaimAttempts  int           `envconfig:"FULFILLMENT_MAX_CLAIM_ATTEMPTS" default:"5"`
	RetryBaseDelay    time.Duration `envconfig:"FULFILLMENT_RETRY_BASE_DELAY" default:"10ms"`
	LowStockThreshold int           `envconfig:"FULFILLMENT_LOW_STOCK_THRESHOLD" default:"5"`
	StockCacheTTL     time.Duration `envconfig:"FULFILLMENT_STOCK_CACHE_TTL" default:"5s"`
	SweepInterval     time.Duration `envconfig:"FULFILLMENT_SWEEP_INTERVAL" default:"1m"`
	MaxImportLines    int           `envconfig:"FULFILLMENT_MAX_IMPORT_LINES" default:"5000"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (c *CatalogConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Type) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported STORE_TYPE %q", c.Store.Type)
	}

	switch strings.ToLower(c.Events.Type) {
	case "none", "kafka", "redis":
	default:
		return fmt.Errorf("unsupported EVENTS_TYPE %q", c.Events.Type)
	}

	if c.Fulfillment.MaxClaimAttempts < 1 {
		return fmt.Errorf("FULFILLMENT_MAX_CLAIM_ATTEMPTS must be at least 1")
	}
	if c.Fulfillment.LowStockThreshold < 0 {
		return fmt.Errorf("FULFILLMENT_LOW_STOCK_THRESHOLD must not be negative")
	}
	if c.App.IsProduction() && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("AUTH_API_KEYS is required in production")
	}
	if c.App.IsProduction() && len(c.Auth.AdminKeys) == 0 {
		return fmt.Errorf("AUTH_ADMIN_KEYS is required in production")
	}
	for _, admin := range c.Auth.AdminKeys {
		for _, key := range c.Auth.APIKeys {
			if admin == key {
				return fmt.Errorf("AUTH_ADMIN_KEYS must not reuse a key from AUTH_API_KEYS")
			}
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
