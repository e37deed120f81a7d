package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/protocol"
	"go-anomaly-pipeline/internal/status"
	"go-anomaly-pipeline/internal/transform"
)

func testJob(format model.DataFormat) model.JobConfig {
	return model.JobConfig{
		ID: "web-logs",
		Analysis: model.AnalysisConfig{
			BucketSpan: 5 * time.Minute,
			Detectors: []model.Detector{
				{Function: "mean", FieldName: "bytes", ByFieldName: "host"},
			},
		},
		DataDescription: model.DataDescription{
			Format:     format,
			TimeField:  "time",
			TimeFormat: model.TimeFormatEpoch,
		},
	}
}

func run(t *testing.T, job model.JobConfig, input string, opts Options) (model.DataCounts, [][]string, error) {
	t.Helper()
	var buf bytes.Buffer
	p, err := New(job, protocol.NewWriter(&buf), model.DataCounts{}, opts)
	require.NoError(t, err)

	counts, err := p.Write(context.Background(), strings.NewReader(input))

	d := protocol.NewDecoder(&buf)
	var frames [][]string
	for {
		rec, derr := d.Next()
		if errors.Is(derr, io.EOF) {
			break
		}
		require.NoError(t, derr)
		frames = append(frames, rec)
	}
	return counts, frames, err
}

func TestWriteDelimited(t *testing.T) {
	input := "time,host,bytes,extra\n" +
		"100,a.com,10,x\n" +
		"not-a-time,b.com,20,x\n" +
		"101,c.com\n"

	counts, frames, err := run(t, testJob(model.FormatDelimited), input, Options{})
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Equal(t, []string{"time", "bytes", "host", protocol.HeaderMarker}, frames[0])
	assert.Equal(t, []string{"100", "10", "a.com", ""}, frames[1])
	assert.Equal(t, []string{"101", "", "c.com", ""}, frames[2])

	assert.Equal(t, int64(3), counts.InputRecordCount)
	assert.Equal(t, int64(2), counts.ProcessedRecordCount)
	assert.Equal(t, int64(4), counts.ProcessedFieldCount)
	assert.Equal(t, int64(10), counts.InputFieldCount)
	assert.Equal(t, int64(1), counts.InvalidDateCount)
	assert.Equal(t, int64(2), counts.MissingFieldCount)
	assert.Equal(t, int64(len(input)), counts.InputBytes)
	assert.Equal(t, time.Unix(100, 0).UTC(), *counts.EarliestRecordTime)
	assert.Equal(t, time.Unix(101, 0).UTC(), *counts.LatestRecordTime)
}

func TestWriteZeroLatencyDropsOldRecords(t *testing.T) {
	input := "time,host,bytes\n3,a,1\n1,a,1\n2,a,1\n"
	counts, frames, err := run(t, testJob(model.FormatDelimited), input, Options{})
	require.NoError(t, err)

	require.Len(t, frames, 2)
	assert.Equal(t, "3", frames[1][0])
	assert.Equal(t, int64(2), counts.OutOfOrderTimeCount)
	assert.Equal(t, int64(1), counts.ProcessedRecordCount)
}

func TestWriteLatencyWindow(t *testing.T) {
	job := testJob(model.FormatDelimited)
	job.Analysis.Latency = 2 * time.Second
	input := "time,host,bytes\n4,a,1\n5,a,1\n3,a,1\n4,a,1\n2,a,1\n"

	counts, frames, err := run(t, job, input, Options{})
	require.NoError(t, err)

	var written []string
	for _, f := range frames[1:] {
		written = append(written, f[0])
	}
	assert.Equal(t, []string{"4", "5", "3", "4"}, written)
	assert.Equal(t, int64(1), counts.OutOfOrderTimeCount)
}

func TestWriteTransformsWithTimeLayout(t *testing.T) {
	job := testJob(model.FormatDelimited)
	job.DataDescription.TimeField = "datetime"
	job.DataDescription.TimeFormat = "2006-01-02 15:04:05"
	job.Transforms = []model.TransformConfig{
		{Transform: "uppercase", Inputs: []string{"host"}, Outputs: []string{"unused"}},
		{Transform: "concat", Inputs: []string{"date", "clock"}, Outputs: []string{"datetime"}, Arguments: []string{" "}},
		{Transform: "exclude", Inputs: []string{"host"}, Condition: &model.Condition{Operator: model.OpMatch, Value: `internal\..*`}},
	}
	input := "date,clock,host,bytes\n" +
		"2024-01-02,10:00:00,a.com,10\n" +
		"2024-01-02,10:00:01,internal.lan,99\n" +
		"2024-01-02,bogus,a.com,10\n"

	counts, frames, err := run(t, job, input, Options{})
	require.NoError(t, err)

	require.Len(t, frames, 2)
	assert.Equal(t, []string{"datetime", "bytes", "host", "."}, frames[0])
	want := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, []string{strconv.FormatInt(want, 10), "10", "a.com", ""}, frames[1])
	assert.Equal(t, int64(1), counts.ExcludedRecordCount)
	assert.Equal(t, int64(1), counts.InvalidDateCount)
}

func TestWriteSingleLine(t *testing.T) {
	job := testJob(model.FormatSingleLine)
	job.Analysis.Detectors = []model.Detector{{Function: "count", ByFieldName: "level"}}
	job.DataDescription.TimeField = "ts"
	job.Transforms = []model.TransformConfig{
		{Transform: "extract", Inputs: []string{"raw"}, Outputs: []string{"ts", "level"}, Arguments: []string{`^(\d+) (\w+)`}},
	}
	input := "1700000000 ERROR disk full\nno timestamp\n1700000005 INFO ok\n"

	counts, frames, err := run(t, job, input, Options{})
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Equal(t, []string{"ts", "level", "."}, frames[0])
	assert.Equal(t, []string{"1700000000", "ERROR", ""}, frames[1])
	assert.Equal(t, []string{"1700000005", "INFO", ""}, frames[2])
	assert.Equal(t, int64(1), counts.InvalidDateCount)
}

func TestWriteCompressedJSON(t *testing.T) {
	job := testJob(model.FormatJSON)
	job.Analysis.Detectors[0].ByFieldName = "host.name"
	job.DataDescription.TimeFormat = model.TimeFormatEpochMs
	payload := `{"time": 1700000000123, "host": {"name": "a"}, "bytes": 5}
{"time": 1700000001000, "host": {"name": "b"}, "bytes": oops}
{"time": 1700000002000, "bytes": 7}`

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body, err := Decode(&gz, "gzip")
	require.NoError(t, err)
	defer body.Close()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	counts, frames, err := run(t, job, string(raw), Options{})
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Equal(t, []string{"time", "bytes", "host.name", "."}, frames[0])
	assert.Equal(t, []string{"1700000000", "5", "a", ""}, frames[1])
	assert.Equal(t, []string{"1700000002", "7", "", ""}, frames[2])
	assert.Equal(t, int64(1), counts.CorruptRecordCount)
	assert.Equal(t, int64(1), counts.MissingFieldCount)
}

func TestDecode(t *testing.T) {
	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r, err := Decode(&zbuf, "zstd")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	r.Close()

	r, err = Decode(strings.NewReader("plain"), "")
	require.NoError(t, err)
	b, _ = io.ReadAll(r)
	assert.Equal(t, "plain", string(b))

	_, err = Decode(strings.NewReader(""), "br")
	assert.True(t, errs.IsStructural(err))

	_, err = Decode(strings.NewReader("not gzip"), "gzip")
	assert.Equal(t, errs.Data, errs.ClassOf(err))
}

func TestWriteStructuralFailure(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(testJob(model.FormatDelimited), protocol.NewWriter(&buf), model.DataCounts{}, Options{})
	require.NoError(t, err)

	_, err = p.Write(context.Background(), strings.NewReader("time,host\n1,a\n"))
	require.Error(t, err)
	assert.True(t, errs.IsStructural(err))
	var gerr *transform.GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "bytes", gerr.Field)

	assert.Equal(t, Failed, p.State())
	assert.Zero(t, buf.Len(), "nothing is sent before the plan is built")

	_, err = p.Write(context.Background(), strings.NewReader("time,host,bytes\n"))
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestWriteOnlyOnce(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(testJob(model.FormatDelimited), protocol.NewWriter(&buf), model.DataCounts{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Idle, p.State())

	_, err = p.Write(context.Background(), strings.NewReader("time,host,bytes\n1,a,1\n"))
	require.NoError(t, err)
	assert.Equal(t, Finished, p.State())

	_, err = p.Write(context.Background(), strings.NewReader("time,host,bytes\n2,a,1\n"))
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestWriteEmptyInput(t *testing.T) {
	counts, frames, err := run(t, testJob(model.FormatDelimited), "", Options{})
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Zero(t, counts.InputRecordCount)
}

func TestWriteReset(t *testing.T) {
	job := testJob(model.FormatDelimited)
	job.Analysis.Latency = time.Minute
	_, frames, err := run(t, job, "time,host,bytes\n100,a,1\n", Options{Reset: &model.TimeRange{Start: 60, End: 120}})
	require.NoError(t, err)

	require.Len(t, frames, 3)
	msg, ok := protocol.ControlMessage(frames[1])
	require.True(t, ok)
	assert.Equal(t, "r60 120", msg)
}

func TestWriteBadTimestampsAbort(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("time,host,bytes\n")
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			sb.WriteString("bad,a,1\n")
		} else {
			sb.WriteString(strconv.Itoa(1000+i) + ",a,1\n")
		}
	}

	counts, _, err := run(t, testJob(model.FormatDelimited), sb.String(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be interpreted")
	assert.Equal(t, int64(100), counts.InputRecordCount)
	assert.Equal(t, int64(50), counts.InvalidDateCount)
}

func TestWriteCancelled(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(testJob(model.FormatDelimited), protocol.NewWriter(&buf), model.DataCounts{}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Write(ctx, strings.NewReader("time,host,bytes\n1,a,1\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, p.State())
}

func TestNewRejectsBadTimeFormat(t *testing.T) {
	job := testJob(model.FormatDelimited)
	job.DataDescription.TimeFormat = "not a layout"
	_, err := New(job, protocol.NewWriter(io.Discard), model.DataCounts{}, Options{})
	assert.True(t, errs.IsStructural(err))
}

func TestWriteExcludedRecordsDoNotMoveLatencyWindow(t *testing.T) {
	job := testJob(model.FormatDelimited)
	job.Analysis.Latency = 2 * time.Second
	job.Transforms = []model.TransformConfig{
		{Transform: "exclude", Inputs: []string{"host"}, Condition: &model.Condition{Operator: model.OpMatch, Value: "drop"}},
	}

	tests := []struct {
		name    string
		rows    string
		written []string
	}{
		{"excluded record ahead of the window", "100,drop,1\n50,keep,1\n", []string{"50"}},
		{"excluded record behind the window", "100,keep,1\n10,drop,1\n", []string{"100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts, frames, err := run(t, job, "time,host,bytes\n"+tt.rows, Options{})
			require.NoError(t, err)

			var written []string
			for _, f := range frames[1:] {
				written = append(written, f[0])
			}
			assert.Equal(t, tt.written, written)
			assert.Equal(t, int64(1), counts.ExcludedRecordCount)
			assert.Zero(t, counts.OutOfOrderTimeCount)
			assert.Equal(t, int64(1), counts.ProcessedRecordCount)
		})
	}
}

func TestFailedWriteLeavesWholeFrames(t *testing.T) {
	host := strings.Repeat("h", 90)
	var sb strings.Builder
	sb.WriteString("time,host,bytes\n")
	for i := 0; i < 70; i++ {
		sb.WriteString(strconv.Itoa(1000+i) + "," + host + ",1\n")
	}
	for i := 0; i < 30; i++ {
		sb.WriteString("bad," + host + ",1\n")
	}

	// run decodes every frame of the sink and fails on a partial one
	_, frames, err := run(t, testJob(model.FormatDelimited), sb.String(), Options{})
	var bad *status.HighProportionOfBadTimestampsError
	require.ErrorAs(t, err, &bad)
	assert.Len(t, frames, 71)
}

func TestWriteUnterminatedQuoteIsStructural(t *testing.T) {
	input := "time,host,bytes\n1,\"a,1\n2,b,1\n3,c,1\n4,d,1\n"
	_, _, err := run(t, testJob(model.FormatDelimited), input, Options{MaxLinesPerRecord: 3})
	require.Error(t, err)
	assert.True(t, errs.IsStructural(err), "got %v", err)
}
