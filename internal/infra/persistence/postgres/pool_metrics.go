package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/souuzaa/performance-api/internal/infra/telemetry"
)

const poolMeterName = "postgres.pool"

type poolGauge struct {
	name        string
	description string
	value       func(*pgxpool.Stat) int64
}

var poolGauges = []poolGauge{
	{
		name:        "ingest_db_pool_connections_total",
		description: "Total connections (idle + acquired + constructing)",
		value:       func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) },
	},
	{
		name:        "ingest_db_pool_connections_idle",
		description: "Idle connections ready for checkout",
		value:       func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) },
	},
	{
		name:        "ingest_db_pool_connections_acquired",
		description: "Connections currently acquired by flushes",
		value:       func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) },
	},
	{
		name:        "ingest_db_pool_connections_constructing",
		description: "Connections currently being constructed",
		value:       func(s *pgxpool.Stat) int64 { return int64(s.ConstructingConns()) },
	},
}

// ObservePoolMetrics registers observable gauges that report pgx pool health.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) error {
	if pool == nil {
		return nil
	}
	normalized := strings.TrimSpace(poolName)
	if normalized == "" {
		normalized = "primary"
	}
	attrs := metric.WithAttributes(telemetry.PoolAttributes(telemetry.Environment(), normalized)...)

	meter := otel.Meter(poolMeterName)
	for _, g := range poolGauges {
		gauge := g
		if _, err := meter.Int64ObservableGauge(gauge.name,
			metric.WithDescription(gauge.description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(gauge.value(pool.Stat()), attrs)
				return nil
			}),
		); err != nil {
			return fmt.Errorf("register %s: %w", gauge.name, err)
		}
	}
	return nil
}

// RecordConnectAttempts records how many attempts Connect needed.
func RecordConnectAttempts(ctx context.Context, attempts int, err error) {
	histogram, herr := otel.Meter(poolMeterName).Int64Histogram("db.connect.attempts",
		metric.WithDescription("Connection attempts before the pool became ready"),
		metric.WithUnit("{attempt}"),
	)
	if herr != nil {
		return
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
	}
	histogram.Record(ctx, int64(attempts), metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrResult.String(result),
	))
}
