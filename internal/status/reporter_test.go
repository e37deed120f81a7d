package status

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/model"
)

func feed(r *Reporter, times ...int64) []int64 {
	var written []int64
	for _, ts := range times {
		r.ReportRecordRead(2)
		if r.Accept(ts) {
			r.ReportWritten(ts, 2)
			written = append(written, ts)
		}
	}
	return written
}

func TestLatencyWindow(t *testing.T) {
	tests := []struct {
		name       string
		latency    time.Duration
		times      []int64
		written    []int64
		outOfOrder int64
	}{
		{
			name:       "zero latency drops records older than everything accepted",
			latency:    0,
			times:      []int64{3, 1, 2},
			written:    []int64{3},
			outOfOrder: 2,
		},
		{
			name:       "zero latency keeps late records inside the accepted range",
			latency:    0,
			times:      []int64{1, 5, 3},
			written:    []int64{1, 5, 3},
			outOfOrder: 1,
		},
		{
			name:       "latency window",
			latency:    2 * time.Second,
			times:      []int64{4, 5, 3, 4, 2},
			written:    []int64{4, 5, 3, 4},
			outOfOrder: 1,
		},
		{
			name:    "in order",
			latency: 0,
			times:   []int64{1, 2, 2, 3},
			written: []int64{1, 2, 2, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReporter("job", Config{Latency: tt.latency}, model.DataCounts{}, nil)
			assert.Equal(t, tt.written, feed(r, tt.times...))

			inc := r.Incremental()
			assert.Equal(t, tt.outOfOrder, inc.OutOfOrderTimeCount)
			assert.Equal(t, int64(len(tt.written)), inc.ProcessedRecordCount)
			assert.Equal(t, int64(len(tt.times)), inc.InputRecordCount)
		})
	}
}

func TestAcceptDoesNotMoveWindow(t *testing.T) {
	r := NewReporter("job", Config{Latency: 2 * time.Second}, model.DataCounts{}, nil)
	require.Equal(t, []int64{10}, feed(r, 10))

	// accepted but never written, e.g. excluded afterwards
	assert.True(t, r.Accept(100))
	assert.Equal(t, []int64{9}, feed(r, 9))
	assert.Zero(t, r.Incremental().OutOfOrderTimeCount)
	assert.Equal(t, time.Unix(10, 0).UTC(), *r.Incremental().LatestRecordTime)
}

func TestTotalsSeededFromPersistedCounts(t *testing.T) {
	latest := time.Unix(100, 0).UTC()
	earliest := time.Unix(50, 0).UTC()
	persisted := model.DataCounts{
		ProcessedRecordCount: 10,
		InputRecordCount:     12,
		EarliestRecordTime:   &earliest,
		LatestRecordTime:     &latest,
	}

	r := NewReporter("job", Config{Latency: 10 * time.Second}, persisted, nil)
	assert.Equal(t, []int64{95, 120}, feed(r, 80, 95, 120))

	inc, total := r.Incremental(), r.Total()
	assert.Equal(t, int64(2), inc.ProcessedRecordCount)
	assert.Equal(t, int64(12), total.ProcessedRecordCount)
	assert.Equal(t, int64(15), total.InputRecordCount)
	assert.Equal(t, int64(1), total.OutOfOrderTimeCount)
	assert.Equal(t, earliest, *total.EarliestRecordTime)
	assert.Equal(t, time.Unix(120, 0).UTC(), *total.LatestRecordTime)
	assert.Equal(t, time.Unix(95, 0).UTC(), *inc.EarliestRecordTime)

	// snapshots are not shared with the reporter
	*inc.LatestRecordTime = time.Time{}
	assert.Equal(t, time.Unix(120, 0).UTC(), *r.Incremental().LatestRecordTime)
}

func TestBadTimestampThreshold(t *testing.T) {
	r := NewReporter("job", Config{}, model.DataCounts{}, nil)
	for i := 0; i < 99; i++ {
		r.ReportRecordRead(1)
		if i%3 == 0 {
			r.ReportDateParseError()
		} else if r.Accept(int64(i)) {
			r.ReportWritten(int64(i), 1)
		}
		require.NoError(t, r.Checkpoint())
	}

	r.ReportRecordRead(1)
	r.ReportDateParseError()
	err := r.Checkpoint()
	var bad *HighProportionOfBadTimestampsError
	require.True(t, errors.As(err, &bad), "got %v", err)
	assert.Equal(t, int64(34), bad.Bad)
	assert.Equal(t, int64(100), bad.Total)
	assert.Equal(t, DefaultAcceptablePercentDateParseErrors, bad.Acceptable)
}

func TestOutOfOrderThresholdAtFinish(t *testing.T) {
	r := NewReporter("job", Config{AcceptablePercentOutOfOrderErrors: 10}, model.DataCounts{}, nil)
	times := make([]int64, 0, 150)
	for i := 0; i < 150; i++ {
		ts := int64(1000 + i)
		if i%5 == 0 {
			ts = 1
		}
		times = append(times, ts)
	}
	feed(r, times...)

	err := r.Finish()
	var ooo *OutOfOrderRecordsError
	require.True(t, errors.As(err, &ooo), "got %v", err)
	assert.Equal(t, int64(29), ooo.OutOfOrder)
}

func TestFinishIgnoresSmallUploads(t *testing.T) {
	r := NewReporter("job", Config{}, model.DataCounts{}, nil)
	for i := 0; i < 10; i++ {
		r.ReportRecordRead(1)
		r.ReportDateParseError()
	}
	assert.NoError(t, r.Finish())
}

func TestIsBoundary(t *testing.T) {
	for n, want := range map[int64]bool{
		0: false, 50: false, 100: true, 900: true, 1100: false,
		2000: true, 10000: true, 15000: false, 20000: true,
	} {
		assert.Equal(t, want, isBoundary(n), "n=%d", n)
	}
}

func TestCountersAccumulate(t *testing.T) {
	r := NewReporter("job", Config{}, model.DataCounts{}, nil)
	r.ReportBytes(128)
	r.ReportMissingFields(2)
	r.ReportMissingFields(0)
	r.ReportCorruptRecord()
	r.ReportExcluded()

	inc := r.Incremental()
	assert.Equal(t, "job", inc.JobID)
	assert.Equal(t, int64(128), inc.InputBytes)
	assert.Equal(t, int64(2), inc.MissingFieldCount)
	assert.Equal(t, int64(1), inc.CorruptRecordCount)
	assert.Equal(t, int64(1), inc.ExcludedRecordCount)
	assert.Nil(t, inc.LastDataTime)
}
