package reader

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/model"
)

func readAll(t *testing.T, r Reader) ([]Record, int) {
	t.Helper()
	var records []Record
	corrupt := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, corrupt
		}
		if errors.Is(err, ErrCorruptRecord) {
			corrupt++
			continue
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
}

func TestDelimited(t *testing.T) {
	input := "\"time\", host ,bytes\n" +
		"1,a.com,10\r\n" +
		"\n" +
		"\x00\n" +
		"2,\"multi\nline\",20\n" +
		"3,short\n"

	d := NewDelimited(strings.NewReader(input), Options{})
	header, err := d.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "host", "bytes"}, header)

	records, corrupt := readAll(t, d)
	assert.Zero(t, corrupt)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"1", "a.com", "10"}, records[0].Values)
	assert.Equal(t, []string{"2", "multi\nline", "20"}, records[1].Values)
	assert.Equal(t, Record{Values: []string{"3", "short", ""}, Fields: 2, Missing: 1}, records[2])
}

func TestDelimitedCustomQuoteAndDelimiter(t *testing.T) {
	input := "a|b\n'x|y'|\"z\"\n"
	d := NewDelimited(strings.NewReader(input), Options{Delimiter: '|', Quote: '\''})
	records, _ := readAll(t, d)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"x|y", `"z"`}, records[0].Values)
}

func TestDelimitedMaxLines(t *testing.T) {
	input := "a,b\n1,\"never\nclosed\nquote\nhere\n"
	d := NewDelimited(strings.NewReader(input), Options{MaxLinesPerRecord: 3})
	_, err := d.ReadHeader()
	require.NoError(t, err)

	_, err = d.Next()
	var mle *MaxLinesError
	require.True(t, errors.As(err, &mle), "got %v", err)
	assert.Equal(t, 2, mle.Start)
	assert.Equal(t, 5, mle.End)
	assert.EqualError(t, err, "max number of lines to read exceeded while reading quoted column beginning on line 2 and ending on line 5")
}

func TestJSON(t *testing.T) {
	input := `{"time": 1, "host": {"name": "a"}, "bytes": 10}
{"time": 2, "bytes": 20.5, "tags": ["x", "y"]}
{"time": 3, "host": {"name": oops}}
` + "\x00\n" + `{"time": 4, "host": {"name": "b"}, "bytes": 40, "flag": true}`

	j := NewJSON(strings.NewReader(input), []string{"bytes", "host.name", "time"})
	header, err := j.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes", "host.name", "time"}, header)

	records, corrupt := readAll(t, j)
	assert.Equal(t, 1, corrupt)
	require.Len(t, records, 3)

	assert.Equal(t, Record{Values: []string{"10", "a", "1"}, Fields: 3}, records[0])
	assert.Equal(t, Record{Values: []string{"20.5", "", "2"}, Fields: 3, Missing: 1}, records[1])
	assert.Equal(t, Record{Values: []string{"40", "b", "4"}, Fields: 4}, records[2])
}

func TestJSONTruncatedObjectIsFatal(t *testing.T) {
	j := NewJSON(strings.NewReader(`{"time": 1} {"time": `), []string{"time"})
	_, err := j.Next()
	require.NoError(t, err)
	_, err = j.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.False(t, errors.Is(err, ErrCorruptRecord))
}

func TestJSONJunkBetweenObjects(t *testing.T) {
	j := NewJSON(strings.NewReader(`garbage {"time": 1} trailing`), []string{"time"})
	records, corrupt := readAll(t, j)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, corrupt)
}

func TestSingleLine(t *testing.T) {
	s := NewSingleLine(strings.NewReader("first line\r\n\x00\n\nsecond line"))
	header, err := s.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, []string{RawField}, header)

	records, _ := readAll(t, s)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"first line"}, records[0].Values)
	assert.Equal(t, []string{"second line"}, records[1].Values)
}

func TestNew(t *testing.T) {
	opts := OptionsFor(model.DataDescription{Format: model.FormatDelimited, FieldDelimiter: "\t"}, nil)
	assert.Equal(t, '\t', opts.Delimiter)
	assert.Equal(t, '"', opts.Quote)

	r, err := New(strings.NewReader(""), opts)
	require.NoError(t, err)
	assert.IsType(t, &Delimited{}, r)

	_, err = New(strings.NewReader(""), Options{Format: "xml"})
	assert.Error(t, err)
}
