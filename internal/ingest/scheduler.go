package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Scheduler runs the periodic record and dead-letter flushes. Each queue has its
// own ticker goroutine; both share one cancellation.
type Scheduler struct {
	core *Core

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	running bool
}

// NewScheduler binds a scheduler to core.
func NewScheduler(core *Core) *Scheduler {
	return &Scheduler{core: core}
}

// Start launches both flush loops. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg = &conc.WaitGroup{}
	s.running = true

	cfg := s.core.Config()
	s.wg.Go(func() {
		runEvery(loopCtx, cfg.FlushInterval, s.core.FlushRecords)
	})
	s.wg.Go(func() {
		runEvery(loopCtx, cfg.DeadFlushInterval, s.core.FlushDeadLetters)
	})
}

// Stop cancels both loops and waits for them, including any flush in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, wg := s.cancel, s.wg
	s.running = false
	s.cancel = nil
	s.wg = nil
	s.mu.Unlock()

	cancel()
	wg.Wait()
}

// runEvery invokes flush on every tick until ctx ends. The write itself is not
// bound to ctx so a stop never aborts a batch mid-flight.
func runEvery(ctx context.Context, interval time.Duration, flush func(context.Context) FlushResult) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flush(writeCtx)
		}
	}
}
