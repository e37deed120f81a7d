package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/model"
)

func TestObserveWrite(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveWrite("farequote", model.DataCounts{
		ProcessedRecordCount: 10,
		InputBytes:           512,
		OutOfOrderTimeCount:  2,
	}, time.Millisecond, nil)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.recordsWritten.WithLabelValues("farequote")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.inputBytes.WithLabelValues("farequote")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsDropped.WithLabelValues("farequote", "out_of_order")))
}

func TestSetJobStateIsExclusive(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetJobState("j", model.JobOpening)
	m.SetJobState("j", model.JobOpened)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobState.WithLabelValues("j", "opening")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobState.WithLabelValues("j", "opened")))

	m.ForgetJob("j")
	assert.Equal(t, 0, testutil.CollectAndCount(m.jobState))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveWrite("j", model.DataCounts{}, 0, nil)
		m.ObserveCommand("open", errors.New("boom"))
		m.ObserveTask("drain", time.Second, nil)
		m.SetQueueDepth(3)
		m.CASConflict()
	})
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
