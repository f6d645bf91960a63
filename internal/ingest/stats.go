package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters is a point-in-time copy of the monotonic ingest counters.
type Counters struct {
	Received    int64 `json:"totalReceived"`
	Accepted    int64 `json:"totalAccepted"`
	Rejected    int64 `json:"totalRejected"`
	DeadLetters int64 `json:"totalDeadLetters"`
	DeadDropped int64 `json:"totalDeadDropped"`
	DBErrors    int64 `json:"totalDbErrors"`
	Flushed     int64 `json:"totalFlushed"`
	DeadFlushed int64 `json:"totalDeadFlushed"`
}

type stats struct {
	received    atomic.Int64
	accepted    atomic.Int64
	rejected    atomic.Int64
	deadLetters atomic.Int64
	deadDropped atomic.Int64
	dbErrors    atomic.Int64
	flushed     atomic.Int64
	deadFlushed atomic.Int64
}

func (s *stats) snapshot() Counters {
	return Counters{
		Received:    s.received.Load(),
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		DeadLetters: s.deadLetters.Load(),
		DeadDropped: s.deadDropped.Load(),
		DBErrors:    s.dbErrors.Load(),
		Flushed:     s.flushed.Load(),
		DeadFlushed: s.deadFlushed.Load(),
	}
}

// flushState tracks one queue's flush cycle: the in-flight guard plus the
// outcome of the last executed flush.
type flushState struct {
	inFlight atomic.Bool

	mu      sync.RWMutex
	lastAt  time.Time
	lastErr string
}

func (f *flushState) begin() bool {
	return f.inFlight.CompareAndSwap(false, true)
}

func (f *flushState) end() {
	f.inFlight.Store(false)
}

func (f *flushState) complete(at time.Time, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAt = at
	if err != nil {
		f.lastErr = err.Error()
		return
	}
	f.lastErr = ""
}

// FlushStatus is a point-in-time copy of a flush cycle.
type FlushStatus struct {
	Flushing    bool       `json:"flushing"`
	LastFlushAt *time.Time `json:"lastFlushAt"`
	LastError   string     `json:"lastError,omitempty"`
}

func (f *flushState) status() FlushStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	status := FlushStatus{
		Flushing:  f.inFlight.Load(),
		LastError: f.lastErr,
	}
	if !f.lastAt.IsZero() {
		at := f.lastAt
		status.LastFlushAt = &at
	}
	return status
}
