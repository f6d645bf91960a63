package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearIngestEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "API_BASE_PATH", "MAX_BODY_BYTES", "DATABASE_URL", "PG_POOL_MAX",
		"PG_IDLE_TIMEOUT_MS", "BATCH_SIZE", "FLUSH_INTERVAL_MS", "MAX_QUEUE_SIZE",
		"DEAD_FLUSH_INTERVAL_MS", "MAX_DEAD_QUEUE_SIZE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadHonoursCancelledContext(t *testing.T) {
	clearIngestEnv(t)
	path := writeConfig(t, "environment: dev\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Load(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Load, got %v", err)
	}
	if _, _, err := LoadOrDefault(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from LoadOrDefault, got %v", err)
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	clearIngestEnv(t)
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault returned error: %v", err)
	}
	if loaded {
		t.Fatalf("expected defaults when file missing")
	}
	if cfg.APIServer.Addr != ":3000" || cfg.APIServer.BasePath != "/api" {
		t.Fatalf("unexpected api defaults: %+v", cfg.APIServer)
	}
	if cfg.APIServer.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1MiB body cap, got %d", cfg.APIServer.MaxBodyBytes)
	}
	if cfg.Database.MaxConns != 10 || cfg.Database.MaxConnIdleTime != 30*time.Second {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if !cfg.Database.MigrationsEnabled() {
		t.Fatalf("expected migrations enabled by default")
	}
	want := IngestConfig{
		BatchSize:         500,
		FlushInterval:     time.Second,
		DeadFlushInterval: 5 * time.Second,
		MaxQueueSize:      100000,
		MaxDeadQueueSize:  50000,
		ShutdownTimeout:   30 * time.Second,
	}
	if cfg.Ingest != want {
		t.Fatalf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Environment != EnvDev || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected environment/logging defaults: %s %s", cfg.Environment, cfg.Logging.Level)
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearIngestEnv(t)
	path := writeConfig(t, `
environment: PROD
apiServer:
  addr: ":8080"
  basePath: "ingest/"
database:
  dsn: postgres://app@db:5432/events
  maxConns: 4
  runMigrations: false
ingest:
  batchSize: 50
  flushInterval: 250ms
  maxQueueSize: 1000
logging:
  level: WARN
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Environment != EnvProd {
		t.Fatalf("expected prod environment, got %s", cfg.Environment)
	}
	if cfg.APIServer.Addr != ":8080" || cfg.APIServer.BasePath != "/ingest" {
		t.Fatalf("unexpected api config: %+v", cfg.APIServer)
	}
	if cfg.Database.DSN != "postgres://app@db:5432/events" || cfg.Database.MaxConns != 4 {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.MigrationsEnabled() {
		t.Fatalf("expected migrations disabled")
	}
	if cfg.Ingest.BatchSize != 50 || cfg.Ingest.FlushInterval != 250*time.Millisecond || cfg.Ingest.MaxQueueSize != 1000 {
		t.Fatalf("unexpected ingest config: %+v", cfg.Ingest)
	}
	if cfg.Ingest.DeadFlushInterval != 5*time.Second {
		t.Fatalf("expected default dead flush interval, got %v", cfg.Ingest.DeadFlushInterval)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected warn level, got %s", cfg.Logging.Level)
	}
	core := cfg.Ingest.CoreConfig()
	if core.BatchSize != 50 || core.MaxDeadQueueSize != 50000 {
		t.Fatalf("unexpected core config: %+v", core)
	}
	pool := cfg.Database.PoolConfig()
	if pool.DSN != cfg.Database.DSN || pool.MaxConns != 4 {
		t.Fatalf("unexpected pool config: %+v", pool)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearIngestEnv(t)
	t.Setenv("PORT", "4000")
	t.Setenv("API_BASE_PATH", "/v2")
	t.Setenv("DATABASE_URL", "postgres://env@db/events")
	t.Setenv("PG_POOL_MAX", "20")
	t.Setenv("PG_IDLE_TIMEOUT_MS", "1500")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("FLUSH_INTERVAL_MS", "200")
	t.Setenv("MAX_QUEUE_SIZE", "10")
	t.Setenv("DEAD_FLUSH_INTERVAL_MS", "700")
	t.Setenv("MAX_DEAD_QUEUE_SIZE", "5")
	t.Setenv("MAX_BODY_BYTES", "2048")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("APP_ENV", "production")

	path := writeConfig(t, `
apiServer:
  addr: ":8080"
ingest:
  batchSize: 50
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIServer.Addr != ":4000" || cfg.APIServer.BasePath != "/v2" || cfg.APIServer.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected api config: %+v", cfg.APIServer)
	}
	if cfg.Database.DSN != "postgres://env@db/events" || cfg.Database.MaxConns != 20 || cfg.Database.MaxConnIdleTime != 1500*time.Millisecond {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	want := IngestConfig{
		BatchSize:         100,
		FlushInterval:     200 * time.Millisecond,
		DeadFlushInterval: 700 * time.Millisecond,
		MaxQueueSize:      10,
		MaxDeadQueueSize:  5,
		ShutdownTimeout:   30 * time.Second,
	}
	if cfg.Ingest != want {
		t.Fatalf("unexpected ingest config: %+v", cfg.Ingest)
	}
	if cfg.Environment != EnvProd || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected environment/logging: %s %s", cfg.Environment, cfg.Logging.Level)
	}
}

func TestEnvRejectsInvalidNumbers(t *testing.T) {
	clearIngestEnv(t)
	t.Setenv("BATCH_SIZE", "lots")
	t.Setenv("MAX_QUEUE_SIZE", "-1")
	_, _, err := LoadOrDefault(context.Background(), "")
	if err == nil {
		t.Fatalf("expected error for invalid env values")
	}
	if !strings.Contains(err.Error(), "BATCH_SIZE") || !strings.Contains(err.Error(), "MAX_QUEUE_SIZE") {
		t.Fatalf("expected both keys reported, got %v", err)
	}
}

func TestEnvRejectsOutOfRangePoolSize(t *testing.T) {
	for _, value := range []string{"2147483648", "4294967306"} {
		clearIngestEnv(t)
		t.Setenv("PG_POOL_MAX", value)
		_, _, err := LoadOrDefault(context.Background(), "")
		if err == nil {
			t.Fatalf("expected error for PG_POOL_MAX=%s", value)
		}
		if !strings.Contains(err.Error(), "PG_POOL_MAX") {
			t.Fatalf("expected PG_POOL_MAX reported, got %v", err)
		}
	}

	clearIngestEnv(t)
	t.Setenv("PG_POOL_MAX", "2147483647")
	cfg, _, err := LoadOrDefault(context.Background(), "")
	if err != nil {
		t.Fatalf("LoadOrDefault returned error: %v", err)
	}
	if cfg.Database.MaxConns != 2147483647 {
		t.Fatalf("expected max int32 pool size, got %d", cfg.Database.MaxConns)
	}
}

func TestValidateRejectsOversizedBatch(t *testing.T) {
	cfg := Default()
	cfg.Ingest.BatchSize = 20000
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "batchSize") {
		t.Fatalf("expected batchSize error, got %v", err)
	}
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Environment = "qa"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected environment error")
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	clearIngestEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MAX_QUEUE_SIZE=42\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("MAX_QUEUE_SIZE", "7")
	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv returned error: %v", err)
	}
	if got := os.Getenv("MAX_QUEUE_SIZE"); got != "7" {
		t.Fatalf("expected existing value kept, got %q", got)
	}
}

func TestTelemetryProviderConfig(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	cfg := TelemetryConfig{Enabled: true, OTLPEndpoint: "collector:4318", ServiceName: "ingest"}
	pc := cfg.ProviderConfig(EnvStaging)
	if !pc.Enabled || pc.OTLPEndpoint != "collector:4318" || pc.ServiceName != "ingest" || pc.Environment != "staging" {
		t.Fatalf("unexpected provider config: %+v", pc)
	}
}
