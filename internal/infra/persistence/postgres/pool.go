package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souuzaa/performance-api/internal/observability"
)

const (
	defaultConnectAttempts    = 5
	defaultConnectMaxInterval = 10 * time.Second
)

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// ConnectOption configures Connect.
type ConnectOption func(*connectSettings)

type connectSettings struct {
	attempts    int
	maxInterval time.Duration
	logger      observability.Logger
	newBackOff  func() backoff.BackOff
}

// WithConnectAttempts bounds how many times the pool is dialled and pinged.
func WithConnectAttempts(attempts int) ConnectOption {
	return func(s *connectSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithConnectLogger reports failed attempts through logger.
func WithConnectLogger(logger observability.Logger) ConnectOption {
	return func(s *connectSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConnectBackOff replaces the retry policy.
func WithConnectBackOff(factory func() backoff.BackOff) ConnectOption {
	return func(s *connectSettings) {
		if factory != nil {
			s.newBackOff = factory
		}
	}
}

// ParsePoolConfig converts cfg into a pgxpool configuration.
func ParsePoolConfig(cfg PoolConfig) (*pgxpool.Config, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	return poolCfg, nil
}

// Connect creates a pool and pings it, retrying with exponential backoff for a
// bounded number of attempts. It returns the number of attempts used.
func Connect(ctx context.Context, cfg PoolConfig, opts ...ConnectOption) (*pgxpool.Pool, int, error) {
	poolCfg, err := ParsePoolConfig(cfg)
	if err != nil {
		return nil, 0, err
	}
	settings := connectSettings{
		attempts:    defaultConnectAttempts,
		maxInterval: defaultConnectMaxInterval,
		logger:      observability.Log(),
		newBackOff:  nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	policy := settings.backOff()

	var lastErr error
	for attempt := 1; attempt <= settings.attempts; attempt++ {
		pool, err := dial(ctx, poolCfg)
		if err == nil {
			return pool, attempt, nil
		}
		lastErr = err
		if attempt == settings.attempts {
			break
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		settings.logger.Warn("postgres connect failed, retrying",
			observability.F("attempt", attempt),
			observability.F("max_attempts", settings.attempts),
			observability.F("retry_in", wait.String()),
			observability.F("error", err),
		)
		select {
		case <-ctx.Done():
			return nil, attempt, errors.Join(fmt.Errorf("postgres: connect cancelled: %w", ctx.Err()), lastErr)
		case <-time.After(wait):
		}
	}
	return nil, settings.attempts, fmt.Errorf("postgres: connect failed after %d attempts: %w", settings.attempts, lastErr)
}

func (s connectSettings) backOff() backoff.BackOff {
	if s.newBackOff != nil {
		return s.newBackOff()
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = s.maxInterval
	return policy
}

func dial(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg.Copy())
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}
