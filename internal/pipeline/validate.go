package pipeline

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/protocol"
	"go-anomaly-pipeline/internal/transform"
)

// resetUnsupported lists detector functions whose state cannot be rewound,
// so buckets cannot be reset for jobs that use them
var resetUnsupported = map[string]bool{
	"rare":      true,
	"freq_rare": true,
	"lat_long":  true,
}

// ValidateJob checks a job configuration before it is stored. Every error is
// structural.
func ValidateJob(job model.JobConfig) error {
	ac := job.Analysis
	if len(ac.Detectors) == 0 {
		return errs.Structuralf("job %s: at least one detector is required", job.ID)
	}
	for i, d := range ac.Detectors {
		if d.Function == "" {
			return errs.Structuralf("job %s: detector %d has no function", job.ID, i)
		}
	}
	if ac.BucketSpan <= 0 {
		return errs.Structuralf("job %s: bucket span must be positive", job.ID)
	}
	if ac.Latency < 0 {
		return errs.Structuralf("job %s: latency cannot be negative", job.ID)
	}

	dd := job.DataDescription
	switch dd.Format {
	case model.FormatDelimited, model.FormatJSON, model.FormatSingleLine, "":
	default:
		return errs.Structuralf("job %s: unknown data format %q", job.ID, dd.Format)
	}
	if dd.TimeField == "" {
		return errs.Structuralf("job %s: time field is required", job.ID)
	}
	if _, err := newTimeParser(dd.TimeFormat); err != nil {
		return errs.Structuralf("job %s: %v", job.ID, err)
	}
	for name, v := range map[string]string{"field delimiter": dd.FieldDelimiter, "quote character": dd.QuoteCharacter} {
		if v != "" && utf8.RuneCountInString(v) != 1 {
			return errs.Structuralf("job %s: %s must be a single character", job.ID, name)
		}
	}

	if err := transform.Verify(job.Transforms); err != nil {
		return errs.Structuralf("job %s: %v", job.ID, err)
	}
	if _, err := transform.NewBuilder(job).OutputNames(); err != nil {
		return errs.Structuralf("job %s: %v", job.ID, err)
	}
	return nil
}

// ParseTimeParam accepts epoch seconds, epoch milliseconds (13 or more
// digits) or an RFC 3339 timestamp
func ParseTimeParam(name, value string) (int64, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if len(value) >= 13 {
			return n / 1000, nil
		}
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, errs.Structuralf("query param '%s' with value '%s': cannot parse date", name, value)
	}
	return t.Unix(), nil
}

// ValidateResetRange checks the reset parameters of an upload. Both empty
// means no reset. A start without an end resets the single second at start.
func ValidateResetRange(job model.JobConfig, start, end string) (*model.TimeRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" {
		return nil, errs.Structuralf("reset_end requires reset_start")
	}

	s, err := ParseTimeParam("reset_start", start)
	if err != nil {
		return nil, err
	}
	e := s + 1
	if end != "" {
		if e, err = ParseTimeParam("reset_end", end); err != nil {
			return nil, err
		}
	}
	if e <= s {
		return nil, errs.Structuralf("reset_end must be after reset_start")
	}

	if job.Analysis.Latency <= 0 {
		return nil, errs.Structuralf("bucket resetting is not supported when no latency is configured")
	}
	for _, d := range job.Analysis.Detectors {
		if resetUnsupported[d.Function] {
			return nil, errs.Structuralf("bucket resetting is not supported for function %s", d.Function)
		}
	}
	return &model.TimeRange{Start: s, End: e}, nil
}

// ValidateFlushParams builds flush params from request values. A start or end
// is only accepted with calcInterim. A start without an end covers one
// bucket span.
func ValidateFlushParams(job model.JobConfig, calcInterim bool, start, end, advanceTime string) (protocol.FlushParams, error) {
	p := protocol.FlushParams{CalcInterim: calcInterim}

	if advanceTime != "" {
		t, err := ParseTimeParam("advance_time", advanceTime)
		if err != nil {
			return p, err
		}
		p.AdvanceTime = t
	}

	if start == "" && end == "" {
		return p, nil
	}
	if !calcInterim {
		return p, errs.Structuralf("start and end are only valid with calc_interim")
	}
	if start == "" {
		return p, errs.Structuralf("end requires start")
	}

	s, err := ParseTimeParam("start", start)
	if err != nil {
		return p, err
	}
	span := int64(job.Analysis.BucketSpan / time.Second)
	if span <= 0 {
		span = 1
	}
	e := s + span
	if end != "" {
		if e, err = ParseTimeParam("end", end); err != nil {
			return p, err
		}
	}
	if e <= s {
		return p, errs.Structuralf("end must be after start")
	}
	p.Start, p.End = s, e
	return p, nil
}
