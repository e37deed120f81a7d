package reader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Delimited reads character separated records with a header row. A quoted
// field may span lines, up to the configured line limit.
type Delimited struct {
	br       *bufio.Reader
	delim    rune
	quote    rune
	maxLines int
	line     int
	header   []string
}

// NewDelimited returns a delimited reader over r
func NewDelimited(r io.Reader, opts Options) *Delimited {
	d := &Delimited{
		br:       bufio.NewReader(r),
		delim:    opts.Delimiter,
		quote:    opts.Quote,
		maxLines: opts.MaxLinesPerRecord,
	}
	if d.delim == 0 {
		d.delim = ','
	}
	if d.quote == 0 {
		d.quote = '"'
	}
	if d.maxLines <= 0 {
		d.maxLines = DefaultMaxLinesPerRecord
	}
	return d
}

// ReadHeader reads the first record and cleans the names in it
func (d *Delimited) ReadHeader() ([]string, error) {
	if d.header != nil {
		return d.header, nil
	}
	raw, err := d.readLogical()
	if err != nil {
		return nil, err
	}
	fields, err := d.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := make([]string, len(fields))
	for i, h := range fields {
		// trim whitespace and remove all quotes
		clean := strings.TrimSpace(h)
		clean = strings.ReplaceAll(clean, string(d.quote), "")
		header[i] = clean
	}
	d.header = header
	return header, nil
}

func (d *Delimited) Next() (Record, error) {
	if d.header == nil {
		if _, err := d.ReadHeader(); err != nil {
			return Record{}, err
		}
	}

	raw, err := d.readLogical()
	if err != nil {
		return Record{}, err
	}
	fields, err := d.parse(raw)
	if err != nil {
		return Record{}, fmt.Errorf("%w at line %d: %v", ErrCorruptRecord, d.line, err)
	}

	rec := Record{Values: fields, Fields: len(fields)}
	if n := len(d.header); len(fields) < n {
		rec.Missing = n - len(fields)
		rec.Values = append(fields, make([]string, rec.Missing)...)
	} else if len(fields) > n {
		rec.Values = fields[:n]
	}
	return rec, nil
}

// readLogical returns the next non-empty record, joining physical lines while
// a quoted field is open.
func (d *Delimited) readLogical() (string, error) {
	var sb strings.Builder
	open := false
	start, count := 0, 0

	for {
		line, err := d.br.ReadString('\n')
		if line == "" && err != nil {
			if errors.Is(err, io.EOF) && open {
				// unterminated quote at end of input: hand over what we have
				return sb.String(), nil
			}
			return "", err
		}
		d.line++
		line = trimLine(line)

		if !open {
			if line == "" || line == nulLine {
				continue
			}
			start = d.line
		} else {
			sb.WriteByte('\n')
		}
		count++
		if count > d.maxLines {
			return "", &MaxLinesError{Start: start, End: d.line}
		}

		sb.WriteString(line)
		if strings.Count(line, string(d.quote))%2 == 1 {
			open = !open
		}
		if !open {
			return sb.String(), nil
		}
	}
}

func (d *Delimited) parse(raw string) ([]string, error) {
	swap := d.quote != '"'
	if swap {
		raw = swapRunes(raw, d.quote, '"')
	}

	cr := csv.NewReader(strings.NewReader(raw))
	cr.Comma = d.delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil, err
	}

	if swap {
		for i, f := range fields {
			fields[i] = swapRunes(f, d.quote, '"')
		}
	}
	return fields, nil
}

// swapRunes exchanges every a for b and every b for a, letting encoding/csv
// parse a custom quote character.
func swapRunes(s string, a, b rune) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case a:
			return b
		case b:
			return a
		}
		return r
	}, s)
}
