package model

import (
	"sort"
	"time"
)

// DataFormat selects the record reader used for a job's input
type DataFormat string

const (
	FormatDelimited  DataFormat = "delimited"
	FormatJSON       DataFormat = "json"
	FormatSingleLine DataFormat = "single_line"
)

// Time formats understood besides a Go time layout
const (
	TimeFormatEpoch   = "epoch"
	TimeFormatEpochMs = "epoch_ms"
)

// DataDescription describes how raw input is laid out
type DataDescription struct {
	Format         DataFormat `json:"format" yaml:"format"`
	TimeField      string     `json:"timeField" yaml:"time_field"`
	TimeFormat     string     `json:"timeFormat" yaml:"time_format"`       // epoch, epoch_ms or a Go layout
	FieldDelimiter string     `json:"fieldDelimiter" yaml:"field_delimiter"` // delimited only, default ","
	QuoteCharacter string     `json:"quoteCharacter" yaml:"quote_character"` // delimited only, default `"`
}

// Detector is one function the analysis process computes over incoming records
type Detector struct {
	Function           string `json:"function" yaml:"function"`
	FieldName          string `json:"fieldName,omitempty" yaml:"field_name,omitempty"`
	ByFieldName        string `json:"byFieldName,omitempty" yaml:"by_field_name,omitempty"`
	OverFieldName      string `json:"overFieldName,omitempty" yaml:"over_field_name,omitempty"`
	PartitionFieldName string `json:"partitionFieldName,omitempty" yaml:"partition_field_name,omitempty"`
}

// Fields returns the non-empty field names the detector reads
func (d Detector) Fields() []string {
	var out []string
	for _, f := range []string{d.FieldName, d.ByFieldName, d.OverFieldName, d.PartitionFieldName} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// AnalysisConfig defines what the analysis process computes
type AnalysisConfig struct {
	BucketSpan              time.Duration `json:"bucketSpan" yaml:"bucket_span"`
	Latency                 time.Duration `json:"latency" yaml:"latency"`
	Detectors               []Detector    `json:"detectors" yaml:"detectors"`
	CategorizationFieldName string        `json:"categorizationFieldName,omitempty" yaml:"categorization_field_name,omitempty"`
	Influencers             []string      `json:"influencers,omitempty" yaml:"influencers,omitempty"`
}

// AnalysisFields returns the sorted, de-duplicated set of fields required by
// the detectors, the categorization field and the influencers.
func (ac AnalysisConfig) AnalysisFields() []string {
	set := make(map[string]struct{})
	for _, d := range ac.Detectors {
		for _, f := range d.Fields() {
			set[f] = struct{}{}
		}
	}
	if ac.CategorizationFieldName != "" {
		set[ac.CategorizationFieldName] = struct{}{}
	}
	for _, f := range ac.Influencers {
		if f != "" {
			set[f] = struct{}{}
		}
	}

	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// JobConfig is the persisted, read-only configuration of one job
type JobConfig struct {
	ID              string            `json:"id" yaml:"id"`
	Description     string            `json:"description,omitempty" yaml:"description,omitempty"`
	Analysis        AnalysisConfig    `json:"analysis" yaml:"analysis"`
	DataDescription DataDescription   `json:"dataDescription" yaml:"data_description"`
	Transforms      []TransformConfig `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}
