package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flushd"

var (
	// Registry holds every flushd collector. It is separate from the default
	// registry so tests can gather it without process collectors.
	Registry = prometheus.NewRegistry()

	flushBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_batches_total",
			Help:      "Count of batches written to the sink, by result.",
		},
		[]string{"result"},
	)
	flushRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_records_total",
			Help:      "Count of records written to the sink.",
		},
	)
	flushBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_bytes_total",
			Help:      "Count of record bytes written to the sink.",
		},
	)
	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time to take and write one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
	)
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_bytes",
			Help:      "Size of flushed batches in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
)

var registerMetrics sync.Once

// Register adds the flush collectors to Registry. Gauges reading live state
// are passed in by the caller.
func Register(gauges ...prometheus.Collector) {
	registerMetrics.Do(func() {
		Registry.MustRegister(flushBatches)
		Registry.MustRegister(flushRecords)
		Registry.MustRegister(flushBytes)
		Registry.MustRegister(flushDuration)
		Registry.MustRegister(batchSize)
	})
	for _, g := range gauges {
		_ = Registry.Register(g)
	}
}

// GaugeFunc is a gauge sampled from fn on every scrape.
func GaugeFunc(name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// RecordFlush records one finished flush.
func RecordFlush(records int, bytes int64, elapsed time.Duration, err error) {
	flushDuration.Observe(elapsed.Seconds())
	if err != nil {
		flushBatches.WithLabelValues("error").Inc()
		return
	}
	flushBatches.WithLabelValues("ok").Inc()
	flushRecords.Add(float64(records))
	flushBytes.Add(float64(bytes))
	batchSize.Observe(float64(bytes))
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
