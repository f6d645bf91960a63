package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerFlushesBothQueues(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.DeadFlushInterval = 5 * time.Millisecond
	core := newTestCore(t, cfg, store)
	seedRecords(t, core, 12)
	seedDeadLetters(t, core, 3, "queue_overflow")

	sched := NewScheduler(core)
	sched.Start(context.Background())
	sched.Start(context.Background())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return core.QueueDepth() == 0 && core.DeadQueueDepth() == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, store.writtenRecords(), 12)
	require.Len(t, store.writtenDeadLetters(), 3)
}

func TestSchedulerRoutesFailuresThroughDeadLetters(t *testing.T) {
	store := &fakeStore{}
	store.setErrors(errors.New("db down"), nil)
	cfg := testConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.DeadFlushInterval = 5 * time.Millisecond
	core := newTestCore(t, cfg, store)
	seedRecords(t, core, 4)

	sched := NewScheduler(core)
	sched.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(store.writtenDeadLetters()) == 4
	}, 2*time.Second, 5*time.Millisecond)
	sched.Stop()

	for _, letter := range store.writtenDeadLetters() {
		require.Equal(t, "insert_failed: db down", letter.Error)
	}
}

func TestSchedulerStopWaitsForLoops(t *testing.T) {
	core := newTestCore(t, testConfig(), &fakeStore{})
	sched := NewScheduler(core)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	cancel()
	sched.Stop()
	sched.Stop()
}
