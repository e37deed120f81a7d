// Package metrics holds the Prometheus collectors of the pipeline service.
// A nil *Metrics disables recording.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go-anomaly-pipeline/internal/model"
)

const namespace = "anomaly_pipeline"

// Metrics is the set of collectors shared by the service components
type Metrics struct {
	recordsWritten *prometheus.CounterVec
	recordsDropped *prometheus.CounterVec
	inputBytes     *prometheus.CounterVec
	writeDuration  *prometheus.HistogramVec
	flushes        *prometheus.CounterVec

	jobState     *prometheus.GaugeVec
	commands     *prometheus.CounterVec
	casConflicts prometheus.Counter

	poolQueueDepth   prometheus.Gauge
	poolTasks        *prometheus.CounterVec
	poolTaskDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_written_total",
			Help:      "Records framed and sent to the analysis process",
		}, []string{"job"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_dropped_total",
			Help:      "Records not sent to the analysis process",
		}, []string{"job", "reason"}), // reason: excluded, invalid_date, out_of_order, corrupt
		inputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "input_bytes_total",
			Help:      "Decoded bytes read from upload bodies",
		}, []string{"job"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "write_duration_seconds",
			Help:      "Duration of one data upload",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"status"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "flushes_total",
			Help:      "Flush requests sent to the analysis process",
		}, []string{"status"}),
		jobState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "job_state",
			Help:      "1 for the current state of each known job",
		}, []string{"job", "state"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "commands_total",
			Help:      "Lifecycle commands applied to job metadata",
		}, []string{"op", "status"}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "cas_conflicts_total",
			Help:      "Metadata updates retried after a revision mismatch",
		}),
		poolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "queue_depth",
			Help:      "Background tasks waiting for a worker",
		}),
		poolTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "tasks_total",
			Help:      "Background tasks by outcome",
		}, []string{"task", "status"}),
		poolTaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "task_duration_seconds",
			Help:      "Time spent running background tasks",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 60, 600},
		}, []string{"task"}),
	}

	for _, c := range []prometheus.Collector{
		m.recordsWritten, m.recordsDropped, m.inputBytes, m.writeDuration, m.flushes,
		m.jobState, m.commands, m.casConflicts,
		m.poolQueueDepth, m.poolTasks, m.poolTaskDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveWrite records the incremental counts of one upload
func (m *Metrics) ObserveWrite(jobID string, counts model.DataCounts, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(jobID).Add(float64(counts.ProcessedRecordCount))
	m.inputBytes.WithLabelValues(jobID).Add(float64(counts.InputBytes))
	m.recordsDropped.WithLabelValues(jobID, "excluded").Add(float64(counts.ExcludedRecordCount))
	m.recordsDropped.WithLabelValues(jobID, "invalid_date").Add(float64(counts.InvalidDateCount))
	m.recordsDropped.WithLabelValues(jobID, "out_of_order").Add(float64(counts.OutOfOrderTimeCount))
	m.recordsDropped.WithLabelValues(jobID, "corrupt").Add(float64(counts.CorruptRecordCount))
	m.writeDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

// ObserveFlush counts one flush request
func (m *Metrics) ObserveFlush(err error) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(status(err)).Inc()
}

// SetJobState marks state as the current state of jobID
func (m *Metrics) SetJobState(jobID string, state model.JobState) {
	if m == nil {
		return
	}
	for _, s := range []model.JobState{model.JobClosed, model.JobOpening, model.JobOpened, model.JobClosing, model.JobFailed} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.jobState.WithLabelValues(jobID, string(s)).Set(v)
	}
}

// ForgetJob drops the per-job series of a deleted job
func (m *Metrics) ForgetJob(jobID string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"job": jobID}
	m.jobState.DeletePartialMatch(labels)
	m.recordsWritten.DeletePartialMatch(labels)
	m.recordsDropped.DeletePartialMatch(labels)
	m.inputBytes.DeletePartialMatch(labels)
}

// ObserveCommand counts one applied lifecycle command
func (m *Metrics) ObserveCommand(op string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(op, status(err)).Inc()
}

// CASConflict counts one retried metadata update
func (m *Metrics) CASConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

// SetQueueDepth records the number of queued background tasks
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.poolQueueDepth.Set(float64(n))
}

// ObserveTask records one finished background task
func (m *Metrics) ObserveTask(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.poolTasks.WithLabelValues(name, status(err)).Inc()
	m.poolTaskDuration.WithLabelValues(name).Observe(d.Seconds())
}
