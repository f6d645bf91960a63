package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/souuzaa/performance-api/internal/domain/eventstore"
	"github.com/souuzaa/performance-api/internal/infra/telemetry"
	"github.com/souuzaa/performance-api/internal/observability"
)

const (
	tableRequests    = "requests"
	tableDeadLetters = "dead_letters"
)

// ErrFlushInFlight reports a drain that found another flush of the same queue
// still running.
var ErrFlushInFlight = errors.New("flush still in flight")

// FlushResult describes one flush invocation. Skipped is set when nothing was
// written because a flush was already running or the queue was empty.
type FlushResult struct {
	Skipped bool
	Batch   int
	Err     error
}

// FlushRecords writes one batch from the head of the record queue. On failure
// every record in the batch is diverted to the dead-letter queue.
func (c *Core) FlushRecords(ctx context.Context) FlushResult {
	if c.records.Len() == 0 || !c.recordFlush.begin() {
		return FlushResult{Skipped: true, Batch: 0, Err: nil}
	}
	defer c.recordFlush.end()

	batch := c.records.Take(c.cfg.BatchSize)
	if len(batch) == 0 {
		return FlushResult{Skipped: true, Batch: 0, Err: nil}
	}

	started := c.now()
	err := c.store.InsertRecords(ctx, batch)
	c.observeFlush(ctx, tableRequests, started, err)
	c.recordFlush.complete(c.now(), err)

	if err == nil {
		c.stats.flushed.Add(int64(len(batch)))
		return FlushResult{Skipped: false, Batch: len(batch), Err: nil}
	}

	c.stats.dbErrors.Add(1)
	reason := "insert_failed: " + err.Error()
	dropped := 0
	for _, record := range batch {
		if !c.routeDeadLetter(eventstore.NewDeadLetter(record, reason)) {
			dropped++
		}
	}
	c.logger.Error("record flush failed",
		observability.F("batch_size", len(batch)),
		observability.F("dead_lettered", len(batch)-dropped),
		observability.F("dropped", dropped),
		observability.F("error", err),
	)
	return FlushResult{Skipped: false, Batch: len(batch), Err: err}
}

// FlushDeadLetters writes one batch from the head of the dead-letter queue. On
// failure the batch is put back at the head when it fits; otherwise it is dropped.
func (c *Core) FlushDeadLetters(ctx context.Context) FlushResult {
	if c.deadLetters.Len() == 0 || !c.deadFlush.begin() {
		return FlushResult{Skipped: true, Batch: 0, Err: nil}
	}
	defer c.deadFlush.end()

	batch := c.deadLetters.Take(c.cfg.BatchSize)
	if len(batch) == 0 {
		return FlushResult{Skipped: true, Batch: 0, Err: nil}
	}

	started := c.now()
	err := c.store.InsertDeadLetters(ctx, batch)
	c.observeFlush(ctx, tableDeadLetters, started, err)
	c.deadFlush.complete(c.now(), err)

	if err == nil {
		c.stats.deadFlushed.Add(int64(len(batch)))
		return FlushResult{Skipped: false, Batch: len(batch), Err: nil}
	}

	c.stats.dbErrors.Add(1)
	reason := "dead_insert_failed: " + err.Error()
	retry := make([]eventstore.DeadLetter, len(batch))
	for i, letter := range batch {
		retry[i] = letter.WithFailure(reason)
	}
	if c.deadLetters.PushFront(retry) {
		c.logger.Error("dead letter flush failed, batch requeued",
			observability.F("batch_size", len(batch)),
			observability.F("error", err),
		)
		return FlushResult{Skipped: false, Batch: len(batch), Err: err}
	}

	c.stats.deadDropped.Add(int64(len(batch)))
	c.logger.Warn("dead letter flush failed, requeue overflow, batch dropped",
		observability.F("batch_size", len(batch)),
		observability.F("dead_queue_depth", c.deadLetters.Len()),
		observability.F("max_dead_queue_size", c.cfg.MaxDeadQueueSize),
		observability.F("error", err),
	)
	return FlushResult{Skipped: false, Batch: len(batch), Err: err}
}

// Drain flushes both queues until each is empty, a write fails or ctx ends.
// The record queue is drained first so its failures can still reach the
// dead-letter table.
func (c *Core) Drain(ctx context.Context) error {
	problems := []error{
		c.drainQueue(ctx, tableRequests, c.records.Len, c.FlushRecords),
		c.drainQueue(ctx, tableDeadLetters, c.deadLetters.Len, c.FlushDeadLetters),
	}
	return observability.AggregateErrors(c.logger, "drain", problems,
		observability.F("queue_depth", c.records.Len()),
		observability.F("dead_queue_depth", c.deadLetters.Len()),
	)
}

func (c *Core) drainQueue(ctx context.Context, table string, depth func() int, flush func(context.Context) FlushResult) error {
	for depth() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("drain %s: %w", table, err)
		}
		res := flush(ctx)
		if res.Err != nil {
			return fmt.Errorf("drain %s: %w", table, res.Err)
		}
		if res.Skipped {
			if depth() > 0 {
				return fmt.Errorf("drain %s: %w", table, ErrFlushInFlight)
			}
			return nil
		}
	}
	return nil
}

func (c *Core) observeFlush(ctx context.Context, table string, started time.Time, err error) {
	if c.flushDuration == nil {
		return
	}
	result := telemetry.ResultSuccess
	if err != nil {
		result = telemetry.ResultError
	}
	elapsed := float64(c.now().Sub(started)) / float64(time.Millisecond)
	c.flushDuration.Record(context.WithoutCancel(ctx), elapsed,
		metric.WithAttributes(telemetry.FlushAttributes(telemetry.Environment(), table, result)...))
}
