package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/protocol"
)

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		value string
		want  int64
		ok    bool
	}{
		{"1700000000", 1700000000, true},
		{"1700000000123", 1700000000, true},
		{"2024-01-02T10:00:00Z", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC).Unix(), true},
		{"yesterday", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseTimeParam("start", tt.value)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errs.IsStructural(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateResetRange(t *testing.T) {
	job := testJob(model.FormatDelimited)
	job.Analysis.Latency = time.Hour

	rng, err := ValidateResetRange(job, "", "")
	require.NoError(t, err)
	assert.Nil(t, rng)

	rng, err = ValidateResetRange(job, "100", "")
	require.NoError(t, err)
	assert.Equal(t, &model.TimeRange{Start: 100, End: 101}, rng)

	rng, err = ValidateResetRange(job, "100", "200")
	require.NoError(t, err)
	assert.Equal(t, &model.TimeRange{Start: 100, End: 200}, rng)

	for name, tc := range map[string][2]string{
		"end without start": {"", "200"},
		"end before start":  {"200", "100"},
		"bad start":         {"soon", ""},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateResetRange(job, tc[0], tc[1])
			assert.True(t, errs.IsStructural(err), "got %v", err)
		})
	}

	t.Run("no latency", func(t *testing.T) {
		j := testJob(model.FormatDelimited)
		_, err := ValidateResetRange(j, "100", "200")
		assert.True(t, errs.IsStructural(err))
	})

	t.Run("rare detector", func(t *testing.T) {
		j := job
		j.Analysis.Detectors = []model.Detector{{Function: "rare", ByFieldName: "host"}}
		_, err := ValidateResetRange(j, "100", "200")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rare")
	})
}

func TestValidateFlushParams(t *testing.T) {
	job := testJob(model.FormatDelimited)

	tests := []struct {
		name        string
		calcInterim bool
		start, end  string
		advance     string
		want        protocol.FlushParams
		wantErr     bool
	}{
		{name: "plain flush", want: protocol.FlushParams{}},
		{name: "interim", calcInterim: true, want: protocol.FlushParams{CalcInterim: true}},
		{name: "interim range", calcInterim: true, start: "100", end: "400",
			want: protocol.FlushParams{CalcInterim: true, Start: 100, End: 400}},
		{name: "start defaults end to one bucket", calcInterim: true, start: "100",
			want: protocol.FlushParams{CalcInterim: true, Start: 100, End: 400}},
		{name: "advance time", advance: "500", want: protocol.FlushParams{AdvanceTime: 500}},
		{name: "range without interim", start: "100", end: "200", wantErr: true},
		{name: "end without start", calcInterim: true, end: "200", wantErr: true},
		{name: "inverted range", calcInterim: true, start: "300", end: "200", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFlushParams(job, tt.calcInterim, tt.start, tt.end, tt.advance)
			if tt.wantErr {
				assert.True(t, errs.IsStructural(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateJob(t *testing.T) {
	valid := func() model.JobConfig {
		return model.JobConfig{
			ID: "farequote",
			Analysis: model.AnalysisConfig{
				BucketSpan: time.Hour,
				Detectors:  []model.Detector{{Function: "mean", FieldName: "responsetime", ByFieldName: "airline"}},
			},
			DataDescription: model.DataDescription{
				Format:     model.FormatDelimited,
				TimeField:  "time",
				TimeFormat: "2006-01-02 15:04:05",
			},
		}
	}
	require.NoError(t, ValidateJob(valid()))

	tests := []struct {
		name   string
		mutate func(*model.JobConfig)
	}{
		{"no detectors", func(j *model.JobConfig) { j.Analysis.Detectors = nil }},
		{"no function", func(j *model.JobConfig) { j.Analysis.Detectors[0].Function = "" }},
		{"no bucket span", func(j *model.JobConfig) { j.Analysis.BucketSpan = 0 }},
		{"negative latency", func(j *model.JobConfig) { j.Analysis.Latency = -time.Second }},
		{"unknown format", func(j *model.JobConfig) { j.DataDescription.Format = "xml" }},
		{"no time field", func(j *model.JobConfig) { j.DataDescription.TimeField = "" }},
		{"bad time format", func(j *model.JobConfig) { j.DataDescription.TimeFormat = "yyyy" }},
		{"long delimiter", func(j *model.JobConfig) { j.DataDescription.FieldDelimiter = "||" }},
		{"unknown transform", func(j *model.JobConfig) {
			j.Transforms = []model.TransformConfig{{Transform: "reverse", Inputs: []string{"airline"}}}
		}},
		{"control field as analysis field", func(j *model.JobConfig) { j.Analysis.Influencers = []string{"."} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := valid()
			tt.mutate(&j)
			err := ValidateJob(j)
			require.Error(t, err)
			assert.True(t, errs.IsStructural(err))
		})
	}
}
