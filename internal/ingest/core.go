// Package ingest implements the admission and batched-durability core: bounded
// in-memory queues, periodic batch flushes to the event store and dead-letter
// recovery.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/souuzaa/performance-api/internal/domain/eventstore"
	"github.com/souuzaa/performance-api/internal/observability"
)

const (
	defaultBatchSize         = 500
	defaultFlushInterval     = time.Second
	defaultDeadFlushInterval = 5 * time.Second
	defaultMaxQueueSize      = 100000
	defaultMaxDeadQueueSize  = 50000
)

// Config tunes batching and queue bounds.
type Config struct {
	BatchSize         int
	FlushInterval     time.Duration
	DeadFlushInterval time.Duration
	MaxQueueSize      int
	MaxDeadQueueSize  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         defaultBatchSize,
		FlushInterval:     defaultFlushInterval,
		DeadFlushInterval: defaultDeadFlushInterval,
		MaxQueueSize:      defaultMaxQueueSize,
		MaxDeadQueueSize:  defaultMaxDeadQueueSize,
	}
}

// Validate ensures every bound is positive.
func (c Config) Validate() error {
	var problems []error
	if c.BatchSize <= 0 {
		problems = append(problems, fmt.Errorf("batch size must be > 0"))
	}
	if c.FlushInterval <= 0 {
		problems = append(problems, fmt.Errorf("flush interval must be > 0"))
	}
	if c.DeadFlushInterval <= 0 {
		problems = append(problems, fmt.Errorf("dead flush interval must be > 0"))
	}
	if c.MaxQueueSize <= 0 {
		problems = append(problems, fmt.Errorf("max queue size must be > 0"))
	}
	if c.MaxDeadQueueSize <= 0 {
		problems = append(problems, fmt.Errorf("max dead queue size must be > 0"))
	}
	if len(problems) > 0 {
		return fmt.Errorf("ingest config: %w", errors.Join(problems...))
	}
	return nil
}

// Option configures a Core.
type Option func(*Core)

// WithLogger overrides the logger used for flush failures and drops.
func WithLogger(logger observability.Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTraceIDGenerator replaces the generator used when callers omit a trace id.
func WithTraceIDGenerator(gen func() string) Option {
	return func(c *Core) {
		if gen != nil {
			c.newTraceID = gen
		}
	}
}

// WithMeter overrides the OpenTelemetry meter used for flush durations.
func WithMeter(meter metric.Meter) Option {
	return func(c *Core) {
		if meter != nil {
			c.meter = meter
		}
	}
}

// WithDropLogInterval bounds how often overflow drops are logged per reason.
func WithDropLogInterval(interval time.Duration) Option {
	return func(c *Core) {
		c.dropLogInterval = interval
	}
}

// Core is the single ingest state object shared by the HTTP handlers, the
// flush scheduler and the metrics readers.
type Core struct {
	cfg   Config
	store eventstore.Store

	records     *Queue[eventstore.Record]
	deadLetters *Queue[eventstore.DeadLetter]
	latency     *LatencyRecorder

	stats       stats
	recordFlush flushState
	deadFlush   flushState

	logger          observability.Logger
	drops           *observability.DropLogger
	dropLogInterval time.Duration
	meter           metric.Meter
	flushDuration   metric.Float64Histogram

	now        func() time.Time
	newTraceID func() string
	startedAt  time.Time
}

// NewCore constructs the ingest core writing to store.
func NewCore(cfg Config, store eventstore.Store, opts ...Option) (*Core, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest: event store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	latency, err := NewLatencyRecorder(DefaultLatencyBounds)
	if err != nil {
		return nil, err
	}
	core := &Core{
		cfg:             cfg,
		store:           store,
		records:         NewQueue[eventstore.Record](cfg.MaxQueueSize),
		deadLetters:     NewQueue[eventstore.DeadLetter](cfg.MaxDeadQueueSize),
		latency:         latency,
		stats:           stats{},
		recordFlush:     flushState{},
		deadFlush:       flushState{},
		logger:          observability.Log(),
		drops:           nil,
		dropLogInterval: 0,
		meter:           otel.Meter("github.com/souuzaa/performance-api/ingest"),
		flushDuration:   nil,
		now:             time.Now,
		newTraceID:      uuid.NewString,
		startedAt:       time.Time{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(core)
		}
	}
	core.drops = observability.NewDropLogger(core.logger, core.dropLogInterval)
	core.startedAt = core.now()

	histogram, err := core.meter.Float64Histogram(
		"ingest.flush.duration",
		metric.WithDescription("Duration of batch writes to the event store"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: create flush histogram: %w", err)
	}
	core.flushDuration = histogram
	return core, nil
}

// Config returns the active configuration.
func (c *Core) Config() Config {
	return c.cfg
}

// Counters returns a copy of the monotonic counters.
func (c *Core) Counters() Counters {
	return c.stats.snapshot()
}

// QueueDepth returns the number of records awaiting a flush.
func (c *Core) QueueDepth() int {
	return c.records.Len()
}

// DeadQueueDepth returns the number of dead letters awaiting a flush.
func (c *Core) DeadQueueDepth() int {
	return c.deadLetters.Len()
}

// Latency exposes the admission latency recorder.
func (c *Core) Latency() *LatencyRecorder {
	return c.latency
}

// routeDeadLetter appends letter to the dead-letter queue when it fits; otherwise
// the letter is dropped and counted.
func (c *Core) routeDeadLetter(letter eventstore.DeadLetter) bool {
	if c.deadLetters.Push(letter) {
		c.stats.deadLetters.Add(1)
		return true
	}
	c.stats.deadDropped.Add(1)
	c.drops.Warn("dead_letter_queue_full", "dead letter dropped",
		observability.F("trace_id", letter.TraceID),
		observability.F("error", letter.Error),
		observability.F("max_dead_queue_size", c.cfg.MaxDeadQueueSize),
	)
	return false
}
