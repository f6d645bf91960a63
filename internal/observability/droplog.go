package observability

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultDropLogInterval = 5 * time.Second

// DropLogger emits warnings for dropped work while bounding log volume per reason.
// Suppressed occurrences are reported with the next emitted entry.
type DropLogger struct {
	logger   Logger
	interval time.Duration

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	suppressed map[string]int
}

// NewDropLogger wraps logger; interval <= 0 selects the default cadence.
func NewDropLogger(logger Logger, interval time.Duration) *DropLogger {
	if logger == nil {
		logger = Log()
	}
	if interval <= 0 {
		interval = defaultDropLogInterval
	}
	return &DropLogger{
		logger:     logger,
		interval:   interval,
		limiters:   make(map[string]*rate.Limiter),
		suppressed: make(map[string]int),
	}
}

// Warn logs msg under reason unless a warning for the same reason was emitted
// within the configured interval. It reports whether the entry was written.
func (d *DropLogger) Warn(reason, msg string, fields ...Field) bool {
	d.mu.Lock()
	limiter, ok := d.limiters[reason]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(d.interval), 1)
		d.limiters[reason] = limiter
	}
	if !limiter.Allow() {
		d.suppressed[reason]++
		d.mu.Unlock()
		return false
	}
	suppressed := d.suppressed[reason]
	d.suppressed[reason] = 0
	d.mu.Unlock()

	out := make([]Field, 0, len(fields)+2)
	out = append(out, fields...)
	out = append(out, Field{Key: "reason", Value: reason})
	if suppressed > 0 {
		out = append(out, Field{Key: "suppressed", Value: suppressed})
	}
	d.logger.Warn(msg, out...)
	return true
}
