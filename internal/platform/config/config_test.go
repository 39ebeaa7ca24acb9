package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestConfigLoad_UsesDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "IDLE_TIMEOUT", "SHUTDOWN_TIMEOUT", "STATE_BACKEND", "APPLINKS_SCHEMES", "PENDING_BUFFER_SIZE"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Addr != ":9999" {
		t.Fatalf("Addr: got %q, want %q", cfg.Addr, ":9999")
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Fatalf("IdleTimeout: got %v, want %v", cfg.IdleTimeout, 60*time.Second)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("ShutdownTimeout: got %v, want %v", cfg.ShutdownTimeout, 10*time.Second)
	}
	if cfg.StateBackend != StateMemory || cfg.ProcessedCapacity != 500 {
		t.Fatalf("state: got %q cap %d", cfg.StateBackend, cfg.ProcessedCapacity)
	}
	if cfg.PendingBufferSize != 0 || len(cfg.Schemes) != 0 {
		t.Fatalf("sdk defaults: got pending %d schemes %v", cfg.PendingBufferSize, cfg.Schemes)
	}
}

func TestConfigLoad_ReadsEnv(t *testing.T) {
	t.Setenv("ADDR", ":18080")
	t.Setenv("WRITE_TIMEOUT", "6s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("APPLINKS_DOMAINS", "example.com, go.example.com ,")
	t.Setenv("APPLINKS_SCHEMES", "myapp,legacy")
	t.Setenv("APPLINKS_DEFERRED_ENABLED", "true")
	t.Setenv("STATE_BACKEND", "Redis")
	t.Setenv("PENDING_BUFFER_SIZE", "-1")
	t.Setenv("MAX_CONCURRENCY", "16")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	if cfg.Addr != ":18080" {
		t.Fatalf("Addr: got %q, want %q", cfg.Addr, ":18080")
	}
	if cfg.WriteTimeout != 6*time.Second {
		t.Fatalf("WriteTimeout: got %v, want %v", cfg.WriteTimeout, 6*time.Second)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel: got %v", cfg.LogLevel)
	}
	if len(cfg.Domains) != 2 || cfg.Domains[1] != "go.example.com" {
		t.Fatalf("Domains: got %q", cfg.Domains)
	}
	if len(cfg.Schemes) != 2 || cfg.Schemes[0] != "myapp" {
		t.Fatalf("Schemes: got %q", cfg.Schemes)
	}
	if !cfg.DeferredEnabled || cfg.StateBackend != StateRedis || !cfg.NeedsRedis() {
		t.Fatalf("deferred/state: got %v %q", cfg.DeferredEnabled, cfg.StateBackend)
	}
	if cfg.PendingBufferSize != -1 || cfg.MaxConcurrency != 16 {
		t.Fatalf("pool: got pending %d concurrency %d", cfg.PendingBufferSize, cfg.MaxConcurrency)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("KafkaBrokers: got %q", cfg.KafkaBrokers)
	}
}

func TestConfigLoad_UnknownBackendFallsBack(t *testing.T) {
	t.Setenv("STATE_BACKEND", "etcd")
	if got := Load().StateBackend; got != StateMemory {
		t.Fatalf("StateBackend: got %q, want memory", got)
	}
}

func TestConfigLoad_StatsTransport(t *testing.T) {
	t.Setenv("STATS_ENABLED", "true")
	t.Setenv("STATS_TRANSPORT", "REDIS")
	t.Setenv("KAFKA_ENABLED", "")
	t.Setenv("RATELIMIT_ENABLED", "false")
	t.Setenv("STATE_BACKEND", "memory")
	cfg := Load()
	if cfg.StatsTransport != StatsRedis || !cfg.NeedsRedis() || !cfg.NeedsPostgres() {
		t.Fatalf("transport: got %q redis=%v pg=%v", cfg.StatsTransport, cfg.NeedsRedis(), cfg.NeedsPostgres())
	}

	t.Setenv("KAFKA_ENABLED", "true")
	if got := Load().StatsTransport; got != StatsKafka {
		t.Fatalf("KAFKA_ENABLED: got %q, want kafka", got)
	}
}
