package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souuzaa/performance-api/internal/domain/eventstore"
)

// maxBindParameters is the PostgreSQL limit on placeholders per statement.
const maxBindParameters = 65535

const (
	requestColumns    = "trace_id, received_at, method, path, payload"
	deadLetterColumns = "trace_id, received_at, method, path, payload, error"

	requestColumnCount    = 5
	deadLetterColumnCount = 6
)

// MaxBatchSize is the largest batch either insert accepts in one statement.
const MaxBatchSize = maxBindParameters / deadLetterColumnCount

var _ eventstore.Store = (*EventStore)(nil)

// EventStore writes record and dead-letter batches with one multi-row INSERT each.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore constructs an EventStore backed by the provided pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertRecords writes records into the requests table.
func (s *EventStore) InsertRecords(ctx context.Context, records []eventstore.Record) error {
	if s.pool == nil {
		return fmt.Errorf("event store: nil pool")
	}
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxBatchSize {
		return fmt.Errorf("event store: batch of %d exceeds %d rows", len(records), MaxBatchSize)
	}
	args := make([]any, 0, len(records)*requestColumnCount)
	for _, r := range records {
		args = append(args, r.TraceID, r.ReceivedAt, r.Method, r.Path, r.Payload)
	}
	query := buildInsertSQL("requests", requestColumns, requestColumnCount, len(records))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("event store: insert requests: %w", err)
	}
	return nil
}

// InsertDeadLetters writes letters into the dead_letters table.
func (s *EventStore) InsertDeadLetters(ctx context.Context, letters []eventstore.DeadLetter) error {
	if s.pool == nil {
		return fmt.Errorf("event store: nil pool")
	}
	if len(letters) == 0 {
		return nil
	}
	if len(letters) > MaxBatchSize {
		return fmt.Errorf("event store: batch of %d exceeds %d rows", len(letters), MaxBatchSize)
	}
	args := make([]any, 0, len(letters)*deadLetterColumnCount)
	for _, d := range letters {
		args = append(args, d.TraceID, d.ReceivedAt, d.Method, d.Path, d.Payload, d.Error)
	}
	query := buildInsertSQL("dead_letters", deadLetterColumns, deadLetterColumnCount, len(letters))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("event store: insert dead letters: %w", err)
	}
	return nil
}

// buildInsertSQL renders INSERT INTO table (columns) VALUES ($1, ...), (...) for rows rows.
func buildInsertSQL(table, columns string, width, rows int) string {
	var b strings.Builder
	b.Grow(len(table) + len(columns) + rows*width*6 + 32)
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(columns)
	b.WriteString(") VALUES ")
	param := 1
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for col := 0; col < width; col++ {
			if col > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(param))
			param++
		}
		b.WriteByte(')')
	}
	return b.String()
}
