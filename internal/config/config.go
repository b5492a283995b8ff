// Package config provides configuration management for the asset registry client.
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
	Ledger    LedgerConfig
	Wallet    WalletConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	RPCBudget RPCBudgetConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// LedgerConfig holds the contract endpoint configuration
type LedgerConfig struct {
	RPCPrimary      string
	RPCSecondary    string
	ContractAddress string
	ChainID         int64
	ConfirmTimeout  time.Duration
	ConfirmPoll     time.Duration
}

// WalletConfig holds the signer keys
type WalletConfig struct {
	PrivateKeys    []string
	DefaultAccount string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds snapshot publication settings
type CacheConfig struct {
	TTL time.Duration
}

// ReconcileConfig bounds the recent activity feed
type ReconcileConfig struct {
	SampleSize int // assets sampled for history (default: 5)
	FeedSize   int // entries kept after merge (default: 10)
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// RPCBudgetConfig holds the node provider compute-unit budget. It only
// applies when Redis is enabled.
type RPCBudgetConfig struct {
	Enabled    bool
	TotalCU    int           // CU per window (default: 500)
	ReservedCU int           // kept for interactive calls (default: 300)
	Window     time.Duration // default: 1s
	MaxWait    time.Duration // default: 10s
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "127.0.0.1"),
		},
		Ledger: LedgerConfig{
			RPCPrimary:      getEnv("LEDGER_RPC_PRIMARY", "http://127.0.0.1:8545"),
			RPCSecondary:    getEnv("LEDGER_RPC_SECONDARY", ""),
			ContractAddress: getEnv("LEDGER_CONTRACT_ADDRESS", ""),
			ChainID:         getEnvAsInt64("LEDGER_CHAIN_ID", 31337),
			ConfirmTimeout:  getEnvAsDuration("TX_CONFIRM_TIMEOUT", 2*time.Minute),
			ConfirmPoll:     getEnvAsDuration("TX_CONFIRM_POLL", time.Second),
		},
		Wallet: WalletConfig{
			PrivateKeys:    getEnvAsList("WALLET_PRIVATE_KEYS"),
			DefaultAccount: getEnv("WALLET_DEFAULT_ACCOUNT", ""),
		},
		Redis: RedisConfig{
			Enabled:        getEnvAsBool("REDIS_ENABLED", false),
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Reconcile: ReconcileConfig{
			SampleSize: getEnvAsInt("RECONCILE_SAMPLE_SIZE", 5),
			FeedSize:   getEnvAsInt("RECONCILE_FEED_SIZE", 10),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		RPCBudget: RPCBudgetConfig{
			Enabled:    getEnvAsBool("RPC_BUDGET_ENABLED", false),
			TotalCU:    getEnvAsInt("RPC_BUDGET_TOTAL_CU", 500),
			ReservedCU: getEnvAsInt("RPC_BUDGET_RESERVED_CU", 300),
			Window:     getEnvAsDuration("RPC_BUDGET_WINDOW", time.Second),
			MaxWait:    getEnvAsDuration("RPC_BUDGET_MAX_WAIT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Ledger.RPCPrimary == "" {
		return fmt.Errorf("LEDGER_RPC_PRIMARY is required")
	}
	if c.Ledger.ChainID <= 0 {
		return fmt.Errorf("LEDGER_CHAIN_ID must be positive, got %d", c.Ledger.ChainID)
	}
	if c.Reconcile.SampleSize < 0 || c.Reconcile.FeedSize < 0 {
		return fmt.Errorf("reconcile sizes cannot be negative")
	}
	if c.RPCBudget.Enabled {
		if !c.Redis.Enabled {
			return fmt.Errorf("RPC_BUDGET_ENABLED requires REDIS_ENABLED")
		}
		if c.RPCBudget.ReservedCU > c.RPCBudget.TotalCU {
			return fmt.Errorf("RPC_BUDGET_RESERVED_CU (%d) cannot exceed RPC_BUDGET_TOTAL_CU (%d)",
				c.RPCBudget.ReservedCU, c.RPCBudget.TotalCU)
		}
	}
	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

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

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
