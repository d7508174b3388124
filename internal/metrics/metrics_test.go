package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IngestStarted()("completed")
	m.AddChunks(3)
	m.EmbedBatch("ok", "")
	m.Retrieval("ok", time.Millisecond, 2)
}

func TestIngestStartedRecordsOutcome(t *testing.T) {
	m := New(prometheus.NewRegistry())
	done := m.IngestStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveIngestions))
	done("failed")
	require.Equal(t, 0.0, testutil.ToFloat64(m.ActiveIngestions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("failed")))

	m.CleanupJob("completed")
	m.CleanupJob("completed")
	require.Equal(t, 2.0, testutil.ToFloat64(m.CleanupJobs.WithLabelValues("completed")))
}
