// Package metrics holds the Prometheus collectors for ingestion, cleanup and retrieval.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	ChunksCreated      prometheus.Counter
	IngestDuration     prometheus.Histogram
	ActiveIngestions   prometheus.Gauge
	EmbedBatches       *prometheus.CounterVec
	VectorsUpserted    prometheus.Counter
	VectorsDeleted     *prometheus.CounterVec
	Rollbacks          *prometheus.CounterVec
	CleanupJobs        *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	RetrievalRequests  *prometheus.CounterVec
	RetrievalDuration  prometheus.Histogram
	RetrievalResults   prometheus.Histogram
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer in mains and a
// fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DocumentsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_documents_processed_total",
			Help: "Documents that finished an ingestion run, by outcome.",
		}, []string{"outcome"}),
		ChunksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_chunks_created_total",
			Help: "Chunk rows persisted.",
		}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_ingest_duration_seconds",
			Help:    "Wall time of one ingestion run.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		ActiveIngestions: f.NewGauge(prometheus.GaugeOpts{
			Name: "ragpipe_active_ingestions",
			Help: "Ingestion runs in flight in this process.",
		}),
		EmbedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_embedding_batches_total",
			Help: "Embedding provider batch calls, by outcome and error class.",
		}, []string{"outcome", "class"}),
		VectorsUpserted: f.NewCounter(prometheus.CounterOpts{
			Name: "ragpipe_vectors_upserted_total",
			Help: "Vectors written to the index.",
		}),
		VectorsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_vector_deletes_total",
			Help: "Vector delete calls, by strategy.",
		}, []string{"strategy"}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_vector_rollbacks_total",
			Help: "Vector rollbacks after failed ingestion, by outcome.",
		}, []string{"outcome"}),
		CleanupJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_cleanup_jobs_total",
			Help: "Cleanup jobs finished by the sweeper, by status.",
		}, []string{"status"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_cleanup_sweep_duration_seconds",
			Help:    "Wall time of one cleanup sweep.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		RetrievalRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ragpipe_retrieval_requests_total",
			Help: "Retrieval calls, by outcome.",
		}, []string{"outcome"}),
		RetrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_retrieval_duration_seconds",
			Help:    "Wall time of one retrieval.",
			Buckets: prometheus.DefBuckets,
		}),
		RetrievalResults: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ragpipe_retrieval_results",
			Help:    "Chunks returned per retrieval.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}),
	}
}

func (m *Metrics) IngestStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.ActiveIngestions.Inc()
	return func(outcome string) {
		m.ActiveIngestions.Dec()
		m.IngestDuration.Observe(time.Since(start).Seconds())
		m.DocumentsProcessed.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksCreated.Add(float64(n))
}

func (m *Metrics) EmbedBatch(outcome, class string) {
	if m == nil {
		return
	}
	m.EmbedBatches.WithLabelValues(outcome, class).Inc()
}

func (m *Metrics) Upserted(n int) {
	if m == nil {
		return
	}
	m.VectorsUpserted.Add(float64(n))
}

func (m *Metrics) Deleted(strategy string) {
	if m == nil {
		return
	}
	m.VectorsDeleted.WithLabelValues(strategy).Inc()
}

func (m *Metrics) Rollback(outcome string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CleanupJob(status string) {
	if m == nil {
		return
	}
	m.CleanupJobs.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) Retrieval(outcome string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.RetrievalRequests.WithLabelValues(outcome).Inc()
	m.RetrievalDuration.Observe(d.Seconds())
	m.RetrievalResults.Observe(float64(results))
}
