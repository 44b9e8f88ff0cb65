// Package config provides configuration management for the carbon marketplace service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Cache     CacheConfig
	Orders    OrdersConfig
	Chain     ChainConfig
	Storage   StorageConfig
	Events    EventsConfig
	KYC       KYCConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Maps      MapsConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          string
	Host          string
	PublicBaseURL string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// Enabled=false turns the activity ledger off; portfolio activity is then empty.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	AdminEmail string // signup with this email creates an admin account
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	KYCStatusTTL time.Duration
	LockTTL      time.Duration
}

// OrdersConfig holds the backend order API and checkout configuration.
// BaseURL and PaymentKey are read at call time; empty values fail the call that needs them.
type OrdersConfig struct {
	BaseURL      string
	Timeout      time.Duration
	PaymentKey   string
	MerchantName string
}

// ChainConfig holds the EVM network used for credit retirement
type ChainConfig struct {
	RPCURL           string
	ChainID          int64
	SignerPrivateKey string
	ContractAddress  string // fallback when a property carries no contract address
	ReceiptTimeout   time.Duration
}

// StorageConfig holds the bucket store configuration
type StorageConfig struct {
	Root          string
	PublicBaseURL string
	ImagesBucket  string
	KYCBucket     string
	MaxUploadSize int64
}

// EventsConfig holds the AMQP publisher configuration. An empty URL disables publishing.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// KYCConfig holds KYC workflow configuration
type KYCConfig struct {
	AutoApprove bool
}

// ReconcileConfig holds retirement reconciliation configuration
type ReconcileConfig struct {
	Interval       time.Duration
	StalePending   time.Duration
	BatchSize      int
	WorkerDisabled bool
}

// RateLimitConfig holds per-user request rates (requests per second)
type RateLimitConfig struct {
	Anonymous int
	User      int
	Admin     int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// MapsConfig holds the public mapping SDK token handed to clients
type MapsConfig struct {
	Token string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	port := getEnv("SERVER_PORT", "8080")

	config := &Config{
		Server: ServerConfig{
			Port:          port,
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "carbon_marketplace"),
				User:           getEnv("POSTGRES_USER", "marketplace"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "carbon_marketplace"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenTTL:   getEnvAsDuration("JWT_TTL", 24*time.Hour),
			AdminEmail: strings.ToLower(getEnv("ADMIN_EMAIL", "")),
		},
		Cache: CacheConfig{
			KYCStatusTTL: getEnvAsDuration("CACHE_KYC_STATUS_TTL", 30*time.Second),
			LockTTL:      getEnvAsDuration("CACHE_LOCK_TTL", 60*time.Second),
		},
		Orders: OrdersConfig{
			BaseURL:      strings.TrimRight(getEnv("ORDERS_BASE_URL", ""), "/"),
			Timeout:      getEnvAsDuration("ORDERS_TIMEOUT", 15*time.Second),
			PaymentKey:   getEnv("RAZORPAY_KEY_ID", ""),
			MerchantName: getEnv("CHECKOUT_MERCHANT_NAME", "Carbon Marketplace"),
		},
		Chain: ChainConfig{
			RPCURL:           getEnv("CHAIN_RPC_URL", ""),
			ChainID:          int64(getEnvAsInt("CHAIN_ID", 80002)),
			SignerPrivateKey: getEnv("CHAIN_SIGNER_KEY", ""),
			ContractAddress:  getEnv("RETIREMENT_CONTRACT_ADDRESS", ""),
			ReceiptTimeout:   getEnvAsDuration("CHAIN_RECEIPT_TIMEOUT", 2*time.Minute),
		},
		Storage: StorageConfig{
			Root:          getEnv("STORAGE_ROOT", "./data/storage"),
			PublicBaseURL: strings.TrimRight(getEnv("STORAGE_PUBLIC_BASE_URL", ""), "/"),
			ImagesBucket:  getEnv("STORAGE_IMAGES_BUCKET", "project_images"),
			KYCBucket:     getEnv("STORAGE_KYC_BUCKET", "kycdocument"),
			MaxUploadSize: int64(getEnvAsInt("STORAGE_MAX_UPLOAD_BYTES", 10<<20)),
		},
		Events: EventsConfig{
			AMQPURL:  getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "marketplace.events"),
		},
		KYC: KYCConfig{
			AutoApprove: getEnvAsBool("KYC_AUTO_APPROVE", true),
		},
		Reconcile: ReconcileConfig{
			Interval:       getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
			StalePending:   getEnvAsDuration("RECONCILE_STALE_PENDING", 10*time.Minute),
			BatchSize:      getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
			WorkerDisabled: getEnvAsBool("RECONCILE_WORKER_DISABLED", false),
		},
		RateLimit: RateLimitConfig{
			Anonymous: getEnvAsInt("RATE_LIMIT_ANONYMOUS", 5),
			User:      getEnvAsInt("RATE_LIMIT_USER", 20),
			Admin:     getEnvAsInt("RATE_LIMIT_ADMIN", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Maps: MapsConfig{
			Token: getEnv("MAPBOX_TOKEN", ""),
		},
	}

	if config.Storage.PublicBaseURL == "" {
		config.Storage.PublicBaseURL = config.Server.PublicBaseURL + "/storage"
	}

	return config, nil
}

// Validate checks the settings the server cannot start without
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	return nil
}

// PostgresURL returns the connection URL used by pgx and golang-migrate
func (c PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
