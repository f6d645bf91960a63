//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	dbmigrations "github.com/souuzaa/performance-api/db/migrations"
	"github.com/souuzaa/performance-api/internal/domain/eventstore"
	"github.com/souuzaa/performance-api/internal/infra/persistence/migrations"
	"github.com/souuzaa/performance-api/internal/infra/persistence/postgres"
	"github.com/souuzaa/performance-api/internal/ingest"
)

var (
	testPool    *pgxpool.Pool
	testDSN     string
	pgContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "performance"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	exitCode := 0
	if err := initialiseDatabase(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres integration tests skipped: %v\n", err)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	_ = pgContainer.Terminate(ctx)
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	testDSN = fmt.Sprintf("postgres://postgres:secret@%s:%s/performance?sslmode=disable", host, port.Port())

	pool, _, err := postgres.Connect(ctx, postgres.PoolConfig{DSN: testDSN, MaxConns: 4}, postgres.WithConnectAttempts(10))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	testPool = pool

	logger := log.New(os.Stdout, "migrate ", log.LstdFlags)
	if err := migrations.ApplyEmbedded(ctx, testDSN, dbmigrations.Files, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), "TRUNCATE requests, dead_letters RESTART IDENTITY")
	require.NoError(t, err)
}

func TestInsertRecordsPersistsRows(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := postgres.NewEventStore(testPool)

	payload := `{"kind":"click"}`
	received := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []eventstore.Record{
		{TraceID: "t-1", ReceivedAt: received, Method: "POST", Path: "/api/v1/events", Payload: &payload},
		{TraceID: "t-2", ReceivedAt: received.Add(time.Second), Method: "POST", Path: "/api/v1/events", Payload: nil},
	}
	require.NoError(t, store.InsertRecords(ctx, records))

	rows, err := testPool.Query(ctx, "SELECT trace_id, received_at, method, path, payload FROM requests ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	var got []eventstore.Record
	for rows.Next() {
		var rec eventstore.Record
		require.NoError(t, rows.Scan(&rec.TraceID, &rec.ReceivedAt, &rec.Method, &rec.Path, &rec.Payload))
		got = append(got, rec)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)
	require.Equal(t, "t-1", got[0].TraceID)
	require.True(t, received.Equal(got[0].ReceivedAt))
	require.NotNil(t, got[0].Payload)
	require.Equal(t, payload, *got[0].Payload)
	require.Nil(t, got[1].Payload)
}

func TestInsertDeadLettersPersistsError(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := postgres.NewEventStore(testPool)

	letter := eventstore.NewDeadLetter(eventstore.Record{
		TraceID:    "dead-1",
		ReceivedAt: time.Now().UTC(),
		Method:     "POST",
		Path:       "/api/v1/events",
	}, "queue_overflow")
	require.NoError(t, store.InsertDeadLetters(ctx, []eventstore.DeadLetter{letter}))

	var (
		traceID   string
		reason    string
		createdAt time.Time
	)
	err := testPool.QueryRow(ctx, "SELECT trace_id, error, created_at FROM dead_letters").Scan(&traceID, &reason, &createdAt)
	require.NoError(t, err)
	require.Equal(t, "dead-1", traceID)
	require.Equal(t, "queue_overflow", reason)
	require.False(t, createdAt.IsZero())
}

func TestInsertEmptyBatchIsNoop(t *testing.T) {
	resetTables(t)
	store := postgres.NewEventStore(testPool)
	require.NoError(t, store.InsertRecords(context.Background(), nil))
	require.NoError(t, store.InsertDeadLetters(context.Background(), nil))
}

func TestCoreFlushesThroughPostgres(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	cfg := ingest.DefaultConfig()
	cfg.BatchSize = 3
	core, err := ingest.NewCore(cfg, postgres.NewEventStore(testPool))
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		res := core.Admit(ctx, ingest.Request{
			TraceID: fmt.Sprintf("trace-%d", i),
			Method:  "POST",
			Path:    "/api/v1/events",
			Body:    strings.NewReader(fmt.Sprintf(`{"n":%d}`, i)),
		})
		require.NoError(t, res.Err)
	}
	require.NoError(t, core.Drain(ctx))

	var count int
	require.NoError(t, testPool.QueryRow(ctx, "SELECT COUNT(*) FROM requests").Scan(&count))
	require.Equal(t, 7, count)
	require.EqualValues(t, 7, core.Counters().Flushed)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	err := migrations.ApplyEmbedded(context.Background(), testDSN, dbmigrations.Files, nil)
	require.NoError(t, err)
}

func TestInsertFailsOnClosedPool(t *testing.T) {
	pool, _, err := postgres.Connect(context.Background(), postgres.PoolConfig{DSN: testDSN, MaxConns: 1})
	require.NoError(t, err)
	pool.Close()

	err = postgres.NewEventStore(pool).InsertRecords(context.Background(), []eventstore.Record{{TraceID: "x", ReceivedAt: time.Now(), Method: "POST", Path: "/"}})
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestCoreFlushesMalformedText(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	core, err := ingest.NewCore(ingest.DefaultConfig(), postgres.NewEventStore(testPool))
	require.NoError(t, err)

	bodies := []string{"\xff\xfe bad", "a\x00b", `{"ok":true}`}
	for i, body := range bodies {
		res := core.Admit(ctx, ingest.Request{
			TraceID: fmt.Sprintf("bad-\xff-%d", i),
			Method:  "POST",
			Path:    "/api/v1/events",
			Body:    strings.NewReader(body),
		})
		require.NoError(t, res.Err)
	}
	require.NoError(t, core.Drain(ctx))
	require.Zero(t, core.Counters().DBErrors)
	require.Zero(t, core.DeadQueueDepth())

	var count int
	require.NoError(t, testPool.QueryRow(ctx, "SELECT COUNT(*) FROM requests").Scan(&count))
	require.Equal(t, len(bodies), count)

	var payload string
	require.NoError(t, testPool.QueryRow(ctx, "SELECT payload FROM requests WHERE trace_id = $1", "bad-�-1").Scan(&payload))
	require.Equal(t, "ab", payload)
}
