package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/souuzaa/performance-api/internal/domain/eventstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu          sync.Mutex
	records     [][]eventstore.Record
	deadLetters [][]eventstore.DeadLetter
	recordErr   error
	deadErr     error
	block       chan struct{}
	entered     chan struct{}

	onDeadInsert func()
}

func (s *fakeStore) InsertRecords(_ context.Context, records []eventstore.Record) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.records = append(s.records, append([]eventstore.Record(nil), records...))
	return nil
}

func (s *fakeStore) InsertDeadLetters(_ context.Context, letters []eventstore.DeadLetter) error {
	if s.onDeadInsert != nil {
		s.onDeadInsert()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadErr != nil {
		return s.deadErr
	}
	s.deadLetters = append(s.deadLetters, append([]eventstore.DeadLetter(nil), letters...))
	return nil
}

func (s *fakeStore) setErrors(recordErr, deadErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordErr = recordErr
	s.deadErr = deadErr
}

func (s *fakeStore) writtenRecords() []eventstore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventstore.Record
	for _, batch := range s.records {
		out = append(out, batch...)
	}
	return out
}

func (s *fakeStore) writtenDeadLetters() []eventstore.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventstore.DeadLetter
	for _, batch := range s.deadLetters {
		out = append(out, batch...)
	}
	return out
}

func testConfig() Config {
	return Config{
		BatchSize:         5,
		FlushInterval:     time.Hour,
		DeadFlushInterval: time.Hour,
		MaxQueueSize:      100,
		MaxDeadQueueSize:  100,
	}
}

func newTestCore(t *testing.T, cfg Config, store eventstore.Store, opts ...Option) *Core {
	t.Helper()
	core, err := NewCore(cfg, store, opts...)
	require.NoError(t, err)
	return core
}

func seedRecords(t *testing.T, core *Core, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		payload := "{}"
		require.True(t, core.records.Push(eventstore.Record{
			TraceID:    "seed",
			ReceivedAt: time.Now(),
			Method:     "POST",
			Path:       "/api/v1/events",
			Payload:    &payload,
		}))
	}
}

func seedDeadLetters(t *testing.T, core *Core, n int, reason string) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, core.deadLetters.Push(eventstore.NewDeadLetter(eventstore.Record{
			TraceID: "dead",
			Method:  "POST",
			Path:    "/api/v1/events",
		}, reason)))
	}
}

func TestNewCoreValidates(t *testing.T) {
	_, err := NewCore(testConfig(), nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.MaxDeadQueueSize = -1
	_, err = NewCore(cfg, &fakeStore{})
	require.ErrorContains(t, err, "batch size")
	require.ErrorContains(t, err, "max dead queue size")

	require.NoError(t, DefaultConfig().Validate())
}

func TestSnapshotDegradedAfterFailedFlush(t *testing.T) {
	store := &fakeStore{}
	core := newTestCore(t, testConfig(), store)

	snap := core.Snapshot()
	require.Equal(t, StatusOK, snap.Status)
	require.Nil(t, snap.Queue.LastFlushAt)
	require.Equal(t, 100, snap.Queue.Capacity)

	store.setErrors(errors.New("connection refused"), nil)
	seedRecords(t, core, 1)
	core.FlushRecords(context.Background())

	snap = core.Snapshot()
	require.Equal(t, StatusDegraded, snap.Status)
	require.Equal(t, "connection refused", snap.Queue.LastError)
	require.NotNil(t, snap.Queue.LastFlushAt)
	require.Equal(t, 1, snap.DeadLetterQueue.Depth)

	store.setErrors(nil, nil)
	seedRecords(t, core, 1)
	core.FlushRecords(context.Background())
	require.Equal(t, StatusOK, core.Snapshot().Status)
}
