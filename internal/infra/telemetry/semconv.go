package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by ingest instruments.
const (
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrTable names the destination table of a batch write.
	AttrTable = attribute.Key("table")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrPoolName labels connection pool gauges.
	AttrPoolName = attribute.Key("db_pool")
	// AttrMigrationsPath identifies the migration source.
	AttrMigrationsPath = attribute.Key("migrations_path")
)

// Result values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultApplied = "applied"
	ResultNoop    = "noop"
	ResultFailed  = "failed"
)

// FlushAttributes returns attributes for batch write metrics.
func FlushAttributes(environment, table, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrTable.String(table),
		AttrResult.String(result),
	}
}

// PoolAttributes returns attributes for connection pool metrics.
func PoolAttributes(environment, poolName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrPoolName.String(poolName),
	}
}

// MigrationAttributes returns attributes for schema migration metrics.
func MigrationAttributes(environment, result, path string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrResult.String(result),
	}
	if path != "" {
		attrs = append(attrs, AttrMigrationsPath.String(path))
	}
	return attrs
}
