package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	StoreProvider string

	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string
	CacheTTL  time.Duration

	BusProvider string
	NatsHost    string
	NatsPort    string
	GRPCBusHost string
	GRPCBusPort string

	GRPCPort   string
	ApiPort    string
	ApiEnabled string
	JWTSecret  string

	MaxAttempts int
	BackoffBase time.Duration

	LogLevel  string
	LogFormat string
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if CARDLEDGER_API_ENABLED != "true", ApiAddr() returns an error
// and the HTTP server simply won't start. Redis is optional too; without it reads go
// straight to the card store.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StoreProvider: getEnv("CARDLEDGER_STORE_PROVIDER", "postgres"),
		DBUser:        os.Getenv("CARDLEDGER_POSTGRES_USER"),
		DBPass:        os.Getenv("CARDLEDGER_POSTGRES_PASSWORD"),
		DBHost:        os.Getenv("CARDLEDGER_POSTGRES_HOST"),
		DBPort:        getEnv("CARDLEDGER_POSTGRES_PORT", "5432"),
		DBName:        os.Getenv("CARDLEDGER_POSTGRES_DB"),
		SSLMode:       os.Getenv("CARDLEDGER_POSTGRES_SSLMODE"),
		RedisHost:     os.Getenv("CARDLEDGER_REDIS_HOST"),
		RedisPort:     getEnv("CARDLEDGER_REDIS_PORT", "6379"),
		CacheTTL:      getEnvDuration("CARDLEDGER_CACHE_TTL", 5*time.Minute),
		BusProvider:   os.Getenv("CARDLEDGER_BUS_PROVIDER"),
		NatsHost:      os.Getenv("CARDLEDGER_NATS_HOST"),
		NatsPort:      os.Getenv("CARDLEDGER_NATS_PORT"),
		GRPCBusHost:   os.Getenv("CARDLEDGER_GRPC_BUS_HOST"),
		GRPCBusPort:   os.Getenv("CARDLEDGER_GRPC_BUS_PORT"),
		GRPCPort:      getEnv("CARDLEDGER_GRPC_PORT", "50051"),
		ApiPort:       os.Getenv("CARDLEDGER_API_PORT"),
		ApiEnabled:    os.Getenv("CARDLEDGER_API_ENABLED"),
		JWTSecret:     os.Getenv("CARDLEDGER_JWT_SECRET"),
		MaxAttempts:   getEnvInt("CARDLEDGER_MAX_ATTEMPTS", 5),
		BackoffBase:   getEnvDuration("CARDLEDGER_BACKOFF_BASE", 10*time.Millisecond),
		LogLevel:      getEnv("CARDLEDGER_LOG_LEVEL", "info"),
		LogFormat:     getEnv("CARDLEDGER_LOG_FORMAT", "json"),
	}

	// Required: card store
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
			return nil, fmt.Errorf("missing required env for database: CARDLEDGER_POSTGRES_USER/HOST/DB/SSLMODE")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("invalid store provider %q, must be 'postgres' or 'memory'", cfg.StoreProvider)
	}

	// Required: bus provider
	if cfg.BusProvider == "" {
		return nil, fmt.Errorf("missing required env: CARDLEDGER_BUS_PROVIDER (nats|grpc)")
	}
	if cfg.BusProvider != "nats" && cfg.BusProvider != "grpc" {
		return nil, fmt.Errorf("invalid bus provider %q, must be 'nats' or 'grpc'", cfg.BusProvider)
	}
	if cfg.BusProvider == "grpc" && (cfg.GRPCBusHost == "" || cfg.GRPCBusPort == "") {
		return nil, fmt.Errorf("missing required env for grpc bus: CARDLEDGER_GRPC_BUS_HOST/PORT")
	}
	if cfg.BusProvider == "nats" && (cfg.NatsHost == "" || cfg.NatsPort == "") {
		return nil, fmt.Errorf("missing required env for nats bus: CARDLEDGER_NATS_HOST/PORT")
	}

	if cfg.ApiEnabled == "true" {
		if cfg.ApiPort == "" {
			return nil, fmt.Errorf("CARDLEDGER_API_PORT is required when CARDLEDGER_API_ENABLED=true")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("CARDLEDGER_JWT_SECRET is required when CARDLEDGER_API_ENABLED=true")
		}
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("CARDLEDGER_MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffBase <= 0 {
		return nil, fmt.Errorf("CARDLEDGER_BACKOFF_BASE must be positive")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

// RedisAddr returns "" when no Redis host is configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) GRPCBusAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCBusHost, c.GRPCBusPort)
}

func (c *Config) GRPCAddr() string {
	return ":" + c.GRPCPort
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if CARDLEDGER_API_ENABLED != "true"; callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("CARDLEDGER_API_PORT is required when CARDLEDGER_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (CARDLEDGER_API_ENABLED != true)")
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
