// Package status keeps the ingestion counters of a job and decides, record by
// record, whether a timestamp is acceptable.
package status

import (
	"fmt"
	"log/slog"
	"time"

	"go-anomaly-pipeline/internal/model"
)

// Defaults for the fatal error-rate thresholds, in percent of records read
const (
	DefaultAcceptablePercentDateParseErrors  = 25
	DefaultAcceptablePercentOutOfOrderErrors = 25
)

// minRecordsForFinalCheck is the smallest upload the final threshold check
// applies to
const minRecordsForFinalCheck = 100

// HighProportionOfBadTimestampsError aborts an upload with too many
// unparseable timestamps
type HighProportionOfBadTimestampsError struct {
	Bad        int64
	Total      int64
	Acceptable int
}

func (e *HighProportionOfBadTimestampsError) Error() string {
	return fmt.Sprintf("a high proportion of records have a timestamp that cannot be interpreted (%d of %d), acceptable is %d%%",
		e.Bad, e.Total, e.Acceptable)
}

// OutOfOrderRecordsError aborts an upload with too many records older than
// the latency window
type OutOfOrderRecordsError struct {
	OutOfOrder int64
	Total      int64
	Acceptable int
}

func (e *OutOfOrderRecordsError) Error() string {
	return fmt.Sprintf("a high proportion of records are not in ascending chronological order (%d of %d) and/or not within the latency window, acceptable is %d%%",
		e.OutOfOrder, e.Total, e.Acceptable)
}

// Config holds the thresholds and latency of one reporter
type Config struct {
	Latency                           time.Duration
	AcceptablePercentDateParseErrors  int
	AcceptablePercentOutOfOrderErrors int
}

// Reporter is the only mutator of a job's DataCounts during an upload. It is
// used by a single write at a time and is not safe for concurrent use.
type Reporter struct {
	jobID       string
	cfg         Config
	latency     int64
	total       model.DataCounts
	incremental model.DataCounts
	latest      int64
	earliest    int64
	hasTime     bool
	now         func() time.Time
	logger      *slog.Logger
}

// NewReporter returns a reporter whose totals start from persisted counts
func NewReporter(jobID string, cfg Config, persisted model.DataCounts, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AcceptablePercentDateParseErrors == 0 {
		cfg.AcceptablePercentDateParseErrors = DefaultAcceptablePercentDateParseErrors
	}
	if cfg.AcceptablePercentOutOfOrderErrors == 0 {
		cfg.AcceptablePercentOutOfOrderErrors = DefaultAcceptablePercentOutOfOrderErrors
	}

	r := &Reporter{
		jobID:       jobID,
		cfg:         cfg,
		latency:     int64(cfg.Latency / time.Second),
		total:       persisted.Clone(),
		incremental: model.DataCounts{JobID: jobID},
		now:         time.Now,
		logger:      logger,
	}
	r.total.JobID = jobID
	if persisted.LatestRecordTime != nil {
		r.latest = persisted.LatestRecordTime.Unix()
		r.hasTime = true
	}
	if persisted.EarliestRecordTime != nil {
		r.earliest = persisted.EarliestRecordTime.Unix()
	} else {
		r.earliest = r.latest
	}
	return r
}

func (r *Reporter) both(f func(dc *model.DataCounts)) {
	f(&r.incremental)
	f(&r.total)
}

// ReportBytes counts raw input bytes
func (r *Reporter) ReportBytes(n int64) {
	r.both(func(dc *model.DataCounts) { dc.InputBytes += n })
}

// ReportRecordRead counts one record read from the input with its field count
func (r *Reporter) ReportRecordRead(fields int) {
	r.both(func(dc *model.DataCounts) {
		dc.InputRecordCount++
		dc.InputFieldCount += int64(fields)
	})
}

// ReportMissingFields counts header fields a record did not carry
func (r *Reporter) ReportMissingFields(n int) {
	if n == 0 {
		return
	}
	r.both(func(dc *model.DataCounts) { dc.MissingFieldCount += int64(n) })
}

// ReportCorruptRecord counts a record the reader had to skip
func (r *Reporter) ReportCorruptRecord() {
	r.both(func(dc *model.DataCounts) { dc.CorruptRecordCount++ })
}

// ReportExcluded counts a record dropped by an exclude transform
func (r *Reporter) ReportExcluded() {
	r.both(func(dc *model.DataCounts) { dc.ExcludedRecordCount++ })
}

// ReportDateParseError counts a record whose time could not be interpreted
func (r *Reporter) ReportDateParseError() {
	r.both(func(dc *model.DataCounts) { dc.InvalidDateCount++ })
}

// Accept applies the latency window to epoch (seconds) and reports whether
// the record should be written. It only counts: the window moves when the
// record is reported written.
//
// With a latency window a record is in order when it is no older than the
// latest time written minus the latency, and anything older is counted and
// dropped. Without one, any record older than the latest time is counted
// as out of order but only dropped when it is also older than the earliest
// written time.
func (r *Reporter) Accept(epoch int64) bool {
	if !r.hasTime {
		return true
	}
	if r.latency > 0 {
		if epoch < r.latest-r.latency {
			r.outOfOrder()
			return false
		}
		return true
	}
	if epoch < r.latest {
		r.outOfOrder()
		return epoch >= r.earliest
	}
	return true
}

func (r *Reporter) outOfOrder() {
	r.both(func(dc *model.DataCounts) { dc.OutOfOrderTimeCount++ })
}

// ReportWritten counts a record sent to the analysis process and moves the
// latency window to include it
func (r *Reporter) ReportWritten(epoch int64, fields int) {
	switch {
	case !r.hasTime:
		r.latest, r.earliest, r.hasTime = epoch, epoch, true
	case epoch > r.latest:
		r.latest = epoch
	case epoch < r.earliest:
		r.earliest = epoch
	}

	t := time.Unix(epoch, 0).UTC()
	now := r.now().UTC()
	r.both(func(dc *model.DataCounts) {
		dc.ProcessedRecordCount++
		dc.ProcessedFieldCount += int64(fields)
		if dc.EarliestRecordTime == nil || t.Before(*dc.EarliestRecordTime) {
			e := t
			dc.EarliestRecordTime = &e
		}
		if dc.LatestRecordTime == nil || t.After(*dc.LatestRecordTime) {
			l := t
			dc.LatestRecordTime = &l
		}
		n := now
		dc.LastDataTime = &n
	})
}

// Checkpoint runs the threshold checks when the number of records read has
// reached a reporting boundary
func (r *Reporter) Checkpoint() error {
	n := r.incremental.InputRecordCount
	if !isBoundary(n) {
		return nil
	}
	r.logger.Debug("ingestion progress", "job_id", r.jobID,
		"records", n,
		"processed", r.incremental.ProcessedRecordCount,
		"invalid_dates", r.incremental.InvalidDateCount,
		"out_of_order", r.incremental.OutOfOrderTimeCount)
	return r.check()
}

// Finish runs the final threshold check of an upload
func (r *Reporter) Finish() error {
	if r.incremental.InputRecordCount < minRecordsForFinalCheck {
		return nil
	}
	return r.check()
}

func (r *Reporter) check() error {
	n := r.incremental.InputRecordCount
	if n == 0 {
		return nil
	}
	if bad := r.incremental.InvalidDateCount; bad*100/n > int64(r.cfg.AcceptablePercentDateParseErrors) {
		return &HighProportionOfBadTimestampsError{Bad: bad, Total: n, Acceptable: r.cfg.AcceptablePercentDateParseErrors}
	}
	if ooo := r.incremental.OutOfOrderTimeCount; ooo*100/n > int64(r.cfg.AcceptablePercentOutOfOrderErrors) {
		return &OutOfOrderRecordsError{OutOfOrder: ooo, Total: n, Acceptable: r.cfg.AcceptablePercentOutOfOrderErrors}
	}
	return nil
}

// isBoundary reports every 100 records up to 1000, every 1000 up to 10000,
// then every 10000
func isBoundary(n int64) bool {
	switch {
	case n <= 0:
		return false
	case n <= 1000:
		return n%100 == 0
	case n <= 10000:
		return n%1000 == 0
	default:
		return n%10000 == 0
	}
}

// Incremental returns a snapshot of the counts of the current upload
func (r *Reporter) Incremental() model.DataCounts {
	return r.incremental.Clone()
}

// Total returns a snapshot of the running totals of the job
func (r *Reporter) Total() model.DataCounts {
	return r.total.Clone()
}
