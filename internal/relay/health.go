package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Health struct {
	RecordsReceived prometheus.Counter
	RecordsStored   prometheus.Counter
	RecordsFailed   *prometheus.CounterVec
	Batches         *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
}

// Creates the relay metrics and registers them with the given registerer.
// A nil registerer creates metrics that are not registered anywhere.
func NewHealth(registerer prometheus.Registerer) *Health {
	factory := promauto.With(registerer)

	return &Health{
		RecordsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_records_received_total",
			Help: "Total number of queue records received",
		}),
		RecordsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_records_stored_total",
			Help: "Total number of payloads written to the store",
		}),
		RecordsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_records_failed_total",
			Help: "Total number of records that failed to process",
		}, []string{"kind"}),
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_batches_total",
			Help: "Total number of batches processed",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_batch_duration_seconds",
			Help:    "Time taken to process a batch",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (h *Health) batchDone(failed bool, seconds float64) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	h.Batches.WithLabelValues(outcome).Inc()
	h.BatchDuration.Observe(seconds)
}
