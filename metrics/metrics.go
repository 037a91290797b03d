package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values for drop and failure reasons.
const (
	ReasonSelector  = "selector"
	ReasonTransform = "transform"
	ReasonShed      = "shed"
	Transient       = "transient"
	Permanent       = "permanent"
)

// Collectors for the notification intake path.
var (
	RecordsSelectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_records_selected_total",
		Help: "Cumulative number of notified records accepted by a selector.",
	}, []string{"kind"})
	RecordsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_records_dropped_total",
		Help: "Cumulative number of notified records dropped, by reason.",
	}, []string{"kind", "reason"})
)

// Collectors for the batch buffer.
var (
	BatchesFlushedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_batches_flushed_total",
		Help: "Cumulative number of batches handed to the write coordinator.",
	}, []string{"collection", "cause"})
	BatchesShedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_batches_shed_total",
		Help: "Cumulative number of batches dropped due to sustained overload.",
	}, []string{"collection"})
)

// Collectors for the write coordinator.
var (
	DocumentsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_documents_written_total",
		Help: "Cumulative number of documents written to the store.",
	}, []string{"collection"})
	WriteRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_write_retries_total",
		Help: "Cumulative number of retried batch writes.",
	}, []string{"collection"})
	WriteFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_write_failures_total",
		Help: "Cumulative number of batches failed and reported, by class.",
	}, []string{"collection", "class"})
	WriteDurationTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mongosink_write_duration_seconds_total",
		Help: "Cumulative number of seconds spent writing to the store.",
	})
)

// Collectors for the connection pool.
var (
	PoolConnsIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mongosink_pool_conns_idle",
		Help: "Number of idle pooled store connections.",
	})
	PoolConnsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mongosink_pool_conns_total",
		Help: "Number of live pooled store connections.",
	})
	PoolExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mongosink_pool_exhausted_total",
		Help: "Cumulative number of connection acquisitions which timed out.",
	})
)

// Collectors for the retention sweeper.
var (
	SweepDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mongosink_sweep_deleted_total",
		Help: "Cumulative number of documents removed by retention sweeps.",
	}, []string{"collection"})
	SweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mongosink_sweep_failures_total",
		Help: "Cumulative number of failed retention sweeps.",
	})
)

// Register registers all collectors of the package with |r|.
func Register(r *prometheus.Registry) {
	r.MustRegister(
		RecordsSelectedTotal,
		RecordsDroppedTotal,
		BatchesFlushedTotal,
		BatchesShedTotal,
		DocumentsWrittenTotal,
		WriteRetriesTotal,
		WriteFailuresTotal,
		WriteDurationTotal,
		PoolConnsIdle,
		PoolConnsTotal,
		PoolExhaustedTotal,
		SweepDeletedTotal,
		SweepFailuresTotal,
	)
}
