package ingest

import "time"

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// QueueStatus describes one queue and its flush cycle.
type QueueStatus struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
	FlushStatus
}

// Snapshot is the health view served to operators.
type Snapshot struct {
	Status          string          `json:"status"`
	Time            time.Time       `json:"time"`
	UptimeSeconds   float64         `json:"uptimeSeconds"`
	BatchSize       int             `json:"batchSize"`
	Counters        Counters        `json:"counters"`
	Queue           QueueStatus     `json:"queue"`
	DeadLetterQueue QueueStatus     `json:"deadLetterQueue"`
	Latency         LatencySnapshot `json:"latencyMs"`
}

// Snapshot reads the current state without modifying it. The status is degraded
// while either queue's last flush failed.
func (c *Core) Snapshot() Snapshot {
	now := c.now()
	queue := QueueStatus{
		Depth:       c.records.Len(),
		Capacity:    c.records.Cap(),
		FlushStatus: c.recordFlush.status(),
	}
	dead := QueueStatus{
		Depth:       c.deadLetters.Len(),
		Capacity:    c.deadLetters.Cap(),
		FlushStatus: c.deadFlush.status(),
	}
	status := StatusOK
	if queue.LastError != "" || dead.LastError != "" {
		status = StatusDegraded
	}
	return Snapshot{
		Status:          status,
		Time:            now.UTC(),
		UptimeSeconds:   now.Sub(c.startedAt).Seconds(),
		BatchSize:       c.cfg.BatchSize,
		Counters:        c.stats.snapshot(),
		Queue:           queue,
		DeadLetterQueue: dead,
		Latency:         c.latency.Snapshot(),
	}
}
