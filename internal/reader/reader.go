// Package reader turns raw input bytes into records of string fields for the
// delimited, JSON and single-line data formats.
package reader

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go-anomaly-pipeline/internal/model"
)

// DefaultMaxLinesPerRecord bounds how many physical lines one quoted
// delimited record may span
const DefaultMaxLinesPerRecord = 10000

// RawField is the single field produced by the single-line reader
const RawField = "raw"

// nulLine is sent by some clients as a keep-alive and is skipped
const nulLine = "\x00"

// ErrCorruptRecord marks a record that could not be parsed. The reader has
// already skipped past it and can continue.
var ErrCorruptRecord = errors.New("corrupt record")

// MaxLinesError is returned when a quoted delimited field never closes
type MaxLinesError struct {
	Start int
	End   int
}

func (e *MaxLinesError) Error() string {
	return fmt.Sprintf("max number of lines to read exceeded while reading quoted column beginning on line %d and ending on line %d",
		e.Start, e.End)
}

// Record is one input record aligned to the reader's header
type Record struct {
	Values []string
	// Fields is the number of fields present in the input
	Fields int
	// Missing is the number of header fields the input did not carry
	Missing int
}

// Reader yields records. Next returns io.EOF at the end of input and an
// error wrapping ErrCorruptRecord for a record that was skipped.
type Reader interface {
	ReadHeader() ([]string, error)
	Next() (Record, error)
}

// Options configures New
type Options struct {
	Format            model.DataFormat
	Delimiter         rune
	Quote             rune
	MaxLinesPerRecord int
	// Fields is the header of the JSON reader
	Fields []string
}

// OptionsFor derives reader options from a data description
func OptionsFor(dd model.DataDescription, fields []string) Options {
	opts := Options{Format: dd.Format, Delimiter: ',', Quote: '"', Fields: fields}
	if dd.FieldDelimiter != "" {
		opts.Delimiter = []rune(dd.FieldDelimiter)[0]
	}
	if dd.QuoteCharacter != "" {
		opts.Quote = []rune(dd.QuoteCharacter)[0]
	}
	return opts
}

// New returns the reader for opts.Format
func New(r io.Reader, opts Options) (Reader, error) {
	switch opts.Format {
	case model.FormatDelimited, "":
		return NewDelimited(r, opts), nil
	case model.FormatJSON:
		return NewJSON(r, opts.Fields), nil
	case model.FormatSingleLine:
		return NewSingleLine(r), nil
	default:
		return nil, fmt.Errorf("unsupported data format %q", opts.Format)
	}
}

// trimLine strips the line terminator
func trimLine(s string) string {
	return strings.TrimSuffix(strings.TrimSuffix(s, "\n"), "\r")
}
