// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsPoppedTotal        prometheus.Counter
	itemsRequeuedTotal      prometheus.Counter
	itemsDeadLetteredTotal  prometheus.Counter
	recordsBufferedTotal    prometheus.Counter
	recordsSkippedTotal     *prometheus.CounterVec
	flushesTotal            *prometheus.CounterVec
	flushAttemptsTotal      prometheus.Counter
	flushDurationSeconds    prometheus.Histogram
	recordBufferSize        prometheus.Gauge
	activeWorkers           prometheus.Gauge
	storeOperationsTotal    *prometheus.CounterVec
	fetchDurationSeconds    *prometheus.HistogramVec
	sanitizationDropRatePct prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsPoppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_items_popped_total",
			Help: "Total work items popped from the pending set.",
		})

		itemsRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_items_requeued_total",
			Help: "Total work items reinserted into the pending set after a failure.",
		})

		itemsDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_items_dead_lettered_total",
			Help: "Total work items moved to the dead-letter counter after exhausting retries.",
		})

		recordsBufferedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_records_buffered_total",
			Help: "Total records accepted into a batch writer buffer.",
		})

		recordsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_skipped_total",
				Help: "Total records dropped before buffering, labeled by reason.",
			},
			[]string{"reason"},
		)

		flushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_flushes_total",
				Help: "Total flush calls, labeled by terminal status.",
			},
			[]string{"status"},
		)

		flushAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_flush_attempts_total",
			Help: "Total individual sink write attempts across all flushes.",
		})

		flushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_flush_duration_seconds",
			Help:    "Histogram of flush latencies, cooldown pauses included.",
			Buckets: []float64{0.05, 0.25, 1, 3, 10, 60, 600, 700},
		})

		recordBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_record_buffer_size",
			Help: "Records currently buffered awaiting flush, summed over workers.",
		})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_active_workers",
			Help: "Number of workers currently processing a batch.",
		})

		storeOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_store_operations_total",
				Help: "Total shared-store round trips, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of product page fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"outcome"},
		)

		sanitizationDropRatePct = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_sanitization_drop_rate_percent",
			Help: "Share of records rejected by the sanitizer in the last batch.",
		})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePop records a pop of n items.
func ObservePop(n int) {
	itemsPoppedTotal.Add(float64(n))
}

// ObserveRequeue records the split of one requeue batch.
func ObserveRequeue(requeued, deadLettered int) {
	itemsRequeuedTotal.Add(float64(requeued))
	itemsDeadLetteredTotal.Add(float64(deadLettered))
}

// ObserveRecordBuffered increments the buffered-records counter.
func ObserveRecordBuffered() {
	recordsBufferedTotal.Inc()
}

// ObserveRecordSkipped increments the skip counter for the given reason.
func ObserveRecordSkipped(reason string) {
	recordsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveFlush records one completed Flush call.
func ObserveFlush(status string, attempts int, duration time.Duration) {
	flushesTotal.WithLabelValues(status).Inc()
	flushAttemptsTotal.Add(float64(attempts))
	flushDurationSeconds.Observe(duration.Seconds())
}

// SetBufferSize sets the buffered-records gauge.
func SetBufferSize(n int) {
	recordBufferSize.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveStoreOperation counts one shared-store round trip.
func ObserveStoreOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveFetch records the latency of one page fetch.
func ObserveFetch(outcome string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetSanitizationDropRate publishes the sanitizer's last drop rate.
func SetSanitizationDropRate(pct float64) {
	sanitizationDropRatePct.Set(pct)
}
