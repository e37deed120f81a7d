package model

import "time"

// DataCounts holds the monotonically increasing ingestion counters of a job.
// A value handed out by the status reporter is a snapshot and is never
// mutated afterwards.
type DataCounts struct {
	JobID                string     `json:"job_id"`
	ProcessedRecordCount int64      `json:"processed_record_count"`
	ProcessedFieldCount  int64      `json:"processed_field_count"`
	InputBytes           int64      `json:"input_bytes"`
	InputRecordCount     int64      `json:"input_record_count"`
	InputFieldCount      int64      `json:"input_field_count"`
	InvalidDateCount     int64      `json:"invalid_date_count"`
	MissingFieldCount    int64      `json:"missing_field_count"`
	OutOfOrderTimeCount  int64      `json:"out_of_order_timestamp_count"`
	ExcludedRecordCount  int64      `json:"excluded_record_count"`
	CorruptRecordCount   int64      `json:"corrupt_record_count"`
	EarliestRecordTime   *time.Time `json:"earliest_record_timestamp,omitempty"`
	LatestRecordTime     *time.Time `json:"latest_record_timestamp,omitempty"`
	LastDataTime         *time.Time `json:"last_data_time,omitempty"`
}

// Add accumulates the counters of other into dc. Time markers keep the
// earliest earliest and the latest latest.
func (dc *DataCounts) Add(other DataCounts) {
	dc.ProcessedRecordCount += other.ProcessedRecordCount
	dc.ProcessedFieldCount += other.ProcessedFieldCount
	dc.InputBytes += other.InputBytes
	dc.InputRecordCount += other.InputRecordCount
	dc.InputFieldCount += other.InputFieldCount
	dc.InvalidDateCount += other.InvalidDateCount
	dc.MissingFieldCount += other.MissingFieldCount
	dc.OutOfOrderTimeCount += other.OutOfOrderTimeCount
	dc.ExcludedRecordCount += other.ExcludedRecordCount
	dc.CorruptRecordCount += other.CorruptRecordCount

	if other.EarliestRecordTime != nil && (dc.EarliestRecordTime == nil || other.EarliestRecordTime.Before(*dc.EarliestRecordTime)) {
		t := *other.EarliestRecordTime
		dc.EarliestRecordTime = &t
	}
	if other.LatestRecordTime != nil && (dc.LatestRecordTime == nil || other.LatestRecordTime.After(*dc.LatestRecordTime)) {
		t := *other.LatestRecordTime
		dc.LatestRecordTime = &t
	}
	if other.LastDataTime != nil {
		t := *other.LastDataTime
		dc.LastDataTime = &t
	}
}

// Clone returns a deep copy so time pointers are not shared
func (dc DataCounts) Clone() DataCounts {
	out := dc
	if dc.EarliestRecordTime != nil {
		t := *dc.EarliestRecordTime
		out.EarliestRecordTime = &t
	}
	if dc.LatestRecordTime != nil {
		t := *dc.LatestRecordTime
		out.LatestRecordTime = &t
	}
	if dc.LastDataTime != nil {
		t := *dc.LastDataTime
		out.LastDataTime = &t
	}
	return out
}

// TimeRange is an inclusive-start, exclusive-end epoch-second range
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}
