package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv overlays environment variables on cfg. Unset or blank variables
// leave the file value in place.
func applyEnv(cfg *AppConfig) error {
	ldr := &envLoader{}

	if env, ok := ldr.getString("APP_ENV"); ok {
		cfg.Environment = Environment(env)
	}
	if port, ok := ldr.getInt("PORT"); ok {
		cfg.APIServer.Addr = ":" + strconv.Itoa(port)
	}
	if base, ok := ldr.getString("API_BASE_PATH"); ok {
		cfg.APIServer.BasePath = base
	}
	if limit, ok := ldr.getInt("MAX_BODY_BYTES"); ok {
		cfg.APIServer.MaxBodyBytes = int64(limit)
	}

	if dsn, ok := ldr.getString("DATABASE_URL"); ok {
		cfg.Database.DSN = dsn
	}
	if maxConns, ok := ldr.getInt32("PG_POOL_MAX"); ok {
		cfg.Database.MaxConns = maxConns
	}
	if idle, ok := ldr.getMillis("PG_IDLE_TIMEOUT_MS"); ok {
		cfg.Database.MaxConnIdleTime = idle
	}

	if size, ok := ldr.getInt("BATCH_SIZE"); ok {
		cfg.Ingest.BatchSize = size
	}
	if interval, ok := ldr.getMillis("FLUSH_INTERVAL_MS"); ok {
		cfg.Ingest.FlushInterval = interval
	}
	if size, ok := ldr.getInt("MAX_QUEUE_SIZE"); ok {
		cfg.Ingest.MaxQueueSize = size
	}
	if interval, ok := ldr.getMillis("DEAD_FLUSH_INTERVAL_MS"); ok {
		cfg.Ingest.DeadFlushInterval = interval
	}
	if size, ok := ldr.getInt("MAX_DEAD_QUEUE_SIZE"); ok {
		cfg.Ingest.MaxDeadQueueSize = size
	}

	if level, ok := ldr.getString("LOG_LEVEL"); ok {
		cfg.Logging.Level = level
	}

	return ldr.validate()
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key string) (string, bool) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false
	}
	return val, true
}

func (l *envLoader) getInt(key string) (int, bool) {
	val, ok := l.getString(key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(val)
	if err != nil || i <= 0 {
		l.errs = append(l.errs, fmt.Sprintf("%s must be a positive integer", key))
		return 0, false
	}
	return i, true
}

func (l *envLoader) getInt32(key string) (int32, bool) {
	val, ok := l.getString(key)
	if !ok {
		return 0, false
	}
	i, err := strconv.ParseInt(val, 10, 32)
	if err != nil || i <= 0 {
		l.errs = append(l.errs, fmt.Sprintf("%s must be a positive 32-bit integer", key))
		return 0, false
	}
	return int32(i), true
}

func (l *envLoader) getMillis(key string) (time.Duration, bool) {
	ms, ok := l.getInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
