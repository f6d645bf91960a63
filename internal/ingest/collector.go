package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	metricsNamespace = "ingest"
	queueLabel       = "queue"
	percentileLabel  = "percentile"
)

// Collector exposes the core's counters, queue gauges and admission latency
// histogram as Prometheus metrics. Values are read at scrape time.
type Collector struct {
	core *Core

	received    *prometheus.Desc
	accepted    *prometheus.Desc
	rejected    *prometheus.Desc
	deadLetters *prometheus.Desc
	deadDropped *prometheus.Desc
	dbErrors    *prometheus.Desc
	flushed     *prometheus.Desc
	deadFlushed *prometheus.Desc

	queueDepth    *prometheus.Desc
	queueCapacity *prometheus.Desc
	flushing      *prometheus.Desc
	lastFlush     *prometheus.Desc
	lastFlushOK   *prometheus.Desc

	latency           *prometheus.Desc
	latencyPercentile *prometheus.Desc
}

// NewCollector builds a collector reading from core.
func NewCollector(core *Core) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}
	return &Collector{
		core:        core,
		received:    desc("requests_received_total", "Total admission attempts."),
		accepted:    desc("requests_accepted_total", "Requests appended to the record queue."),
		rejected:    desc("requests_rejected_total", "Requests rejected by admission."),
		deadLetters: desc("dead_letters_total", "Records appended to the dead-letter queue."),
		deadDropped: desc("dead_letters_dropped_total", "Records dropped because the dead-letter queue was full."),
		dbErrors:    desc("db_errors_total", "Failed batch writes to the event store."),
		flushed:     desc("records_flushed_total", "Records written to the requests table."),
		deadFlushed: desc("dead_letters_flushed_total", "Dead letters written to the dead_letters table."),

		queueDepth:    desc("queue_depth", "Items waiting in the queue.", queueLabel),
		queueCapacity: desc("queue_capacity", "Maximum items the queue may hold.", queueLabel),
		flushing:      desc("flush_in_progress", "Whether a flush of the queue is running.", queueLabel),
		lastFlush:     desc("last_flush_timestamp_seconds", "Unix time of the last executed flush.", queueLabel),
		lastFlushOK:   desc("last_flush_success", "Whether the last executed flush succeeded.", queueLabel),

		latency:           desc("request_duration_ms", "Admission latency in milliseconds."),
		latencyPercentile: desc("request_duration_ms_estimate", "Admission latency percentile estimated from the histogram buckets.", percentileLabel),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.received, c.accepted, c.rejected, c.deadLetters, c.deadDropped, c.dbErrors, c.flushed, c.deadFlushed,
		c.queueDepth, c.queueCapacity, c.flushing, c.lastFlush, c.lastFlushOK,
		c.latency, c.latencyPercentile,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.core.Snapshot()

	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.received, snap.Counters.Received)
	counter(c.accepted, snap.Counters.Accepted)
	counter(c.rejected, snap.Counters.Rejected)
	counter(c.deadLetters, snap.Counters.DeadLetters)
	counter(c.deadDropped, snap.Counters.DeadDropped)
	counter(c.dbErrors, snap.Counters.DBErrors)
	counter(c.flushed, snap.Counters.Flushed)
	counter(c.deadFlushed, snap.Counters.DeadFlushed)

	c.collectQueue(ch, tableRequests, snap.Queue)
	c.collectQueue(ch, tableDeadLetters, snap.DeadLetterQueue)

	lat := snap.Latency
	buckets := make(map[float64]uint64, len(lat.Bounds))
	var cumulative uint64
	for i, bound := range lat.Bounds {
		cumulative += lat.Counts[i]
		buckets[bound] = cumulative
	}
	ch <- prometheus.MustNewConstHistogram(c.latency, lat.Count, lat.SumMs, buckets)

	ch <- prometheus.MustNewConstMetric(c.latencyPercentile, prometheus.GaugeValue, lat.P50, "p50")
	ch <- prometheus.MustNewConstMetric(c.latencyPercentile, prometheus.GaugeValue, lat.P95, "p95")
	ch <- prometheus.MustNewConstMetric(c.latencyPercentile, prometheus.GaugeValue, lat.P99, "p99")
}

func (c *Collector) collectQueue(ch chan<- prometheus.Metric, name string, q QueueStatus) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, name)
	}
	gauge(c.queueDepth, float64(q.Depth))
	gauge(c.queueCapacity, float64(q.Capacity))
	gauge(c.flushing, boolValue(q.Flushing))
	var last float64
	if q.LastFlushAt != nil {
		last = float64(q.LastFlushAt.UnixNano()) / 1e9
	}
	gauge(c.lastFlush, last)
	gauge(c.lastFlushOK, boolValue(q.LastFlushAt != nil && q.LastError == ""))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry holding the ingest collector together with the
// Go runtime and process collectors.
func NewRegistry(core *Core) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(core))
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
