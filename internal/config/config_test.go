package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CARDLEDGER_STORE_PROVIDER", "postgres")
	t.Setenv("CARDLEDGER_POSTGRES_USER", "ledger")
	t.Setenv("CARDLEDGER_POSTGRES_PASSWORD", "secret")
	t.Setenv("CARDLEDGER_POSTGRES_HOST", "db")
	t.Setenv("CARDLEDGER_POSTGRES_PORT", "5433")
	t.Setenv("CARDLEDGER_POSTGRES_DB", "cards")
	t.Setenv("CARDLEDGER_POSTGRES_SSLMODE", "disable")
	t.Setenv("CARDLEDGER_BUS_PROVIDER", "nats")
	t.Setenv("CARDLEDGER_NATS_HOST", "nats")
	t.Setenv("CARDLEDGER_NATS_PORT", "4222")
	t.Setenv("CARDLEDGER_REDIS_HOST", "")
	t.Setenv("CARDLEDGER_API_ENABLED", "")
	t.Setenv("CARDLEDGER_API_PORT", "")
	t.Setenv("CARDLEDGER_MAX_ATTEMPTS", "")
	t.Setenv("CARDLEDGER_BACKOFF_BASE", "")
}

func TestNew_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.DSN(); got != "postgres://ledger:secret@db:5433/cards?sslmode=disable" {
		t.Errorf("DSN = %s", got)
	}
	if cfg.NatsAddr() != "nats://nats:4222" {
		t.Errorf("NatsAddr = %s", cfg.NatsAddr())
	}
	if cfg.RedisAddr() != "" {
		t.Errorf("RedisAddr = %q, want empty when unset", cfg.RedisAddr())
	}
	if cfg.MaxAttempts != 5 || cfg.BackoffBase != 10*time.Millisecond {
		t.Errorf("retry defaults = %d/%s", cfg.MaxAttempts, cfg.BackoffBase)
	}
	if cfg.GRPCAddr() != ":50051" {
		t.Errorf("GRPCAddr = %s", cfg.GRPCAddr())
	}
	if _, err := cfg.ApiAddr(); err == nil {
		t.Error("expected API to be disabled by default")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing database", map[string]string{"CARDLEDGER_POSTGRES_HOST": ""}, "database"},
		{"bad store", map[string]string{"CARDLEDGER_STORE_PROVIDER": "sqlite"}, "store provider"},
		{"missing bus", map[string]string{"CARDLEDGER_BUS_PROVIDER": ""}, "BUS_PROVIDER"},
		{"bad bus", map[string]string{"CARDLEDGER_BUS_PROVIDER": "kafka"}, "invalid bus provider"},
		{"grpc bus without addr", map[string]string{"CARDLEDGER_BUS_PROVIDER": "grpc"}, "grpc bus"},
		{"api without port", map[string]string{"CARDLEDGER_API_ENABLED": "true", "CARDLEDGER_JWT_SECRET": "s3cret"}, "API_PORT"},
		{"api without secret", map[string]string{"CARDLEDGER_API_ENABLED": "true", "CARDLEDGER_API_PORT": "8080", "CARDLEDGER_JWT_SECRET": ""}, "JWT_SECRET"},
		{"zero attempts", map[string]string{"CARDLEDGER_MAX_ATTEMPTS": "0"}, "MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := New()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_MemoryStoreSkipsDatabase(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CARDLEDGER_STORE_PROVIDER", "memory")
	t.Setenv("CARDLEDGER_POSTGRES_HOST", "")

	if _, err := New(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApiAddr(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CARDLEDGER_API_ENABLED", "true")
	t.Setenv("CARDLEDGER_JWT_SECRET", "s3cret")
	t.Setenv("CARDLEDGER_API_PORT", "8080")
	t.Setenv("CARDLEDGER_CACHE_TTL", "30s")
	t.Setenv("CARDLEDGER_REDIS_HOST", "cache")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr, err := cfg.ApiAddr()
	if err != nil || addr != ":8080" {
		t.Fatalf("ApiAddr = %q, %v", addr, err)
	}
	if cfg.CacheTTL != 30*time.Second || cfg.RedisAddr() != "cache:6379" {
		t.Errorf("cache config = %s %s", cfg.CacheTTL, cfg.RedisAddr())
	}
}
