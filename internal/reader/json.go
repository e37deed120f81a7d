package reader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// JSON reads a stream of top-level JSON objects. Nested objects are flattened
// into dotted field names. An object that fails to decode is skipped and
// reported as one corrupt record.
type JSON struct {
	br     *bufio.Reader
	fields []string
	index  map[string]int
	buf    bytes.Buffer
	values []string
	seen   []bool
}

// NewJSON returns a JSON reader producing the given fields
func NewJSON(r io.Reader, fields []string) *JSON {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f] = i
	}
	return &JSON{
		br:     bufio.NewReader(r),
		fields: fields,
		index:  index,
		seen:   make([]bool, len(fields)),
	}
}

func (j *JSON) ReadHeader() ([]string, error) {
	return j.fields, nil
}

func (j *JSON) Next() (Record, error) {
	junk, err := j.skipToObject()
	if err != nil {
		return Record{}, err
	}
	if junk {
		return Record{}, fmt.Errorf("%w: unexpected content between objects", ErrCorruptRecord)
	}

	if err := j.scanObject(); err != nil {
		return Record{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(j.buf.Bytes()))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	j.values = make([]string, len(j.fields))
	for i := range j.seen {
		j.seen[i] = false
	}
	rec := Record{}
	j.flatten("", obj, &rec)
	rec.Values = j.values
	for _, s := range j.seen {
		if !s {
			rec.Missing++
		}
	}
	return rec, nil
}

// skipToObject advances to the next '{'. It reports whether anything other
// than whitespace, separators or NUL keep-alives was skipped on the way.
func (j *JSON) skipToObject() (bool, error) {
	junk := false
	for {
		c, err := j.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && junk {
				return false, fmt.Errorf("%w: unexpected content at end of input", ErrCorruptRecord)
			}
			return false, err
		}
		switch c {
		case '{':
			if err := j.br.UnreadByte(); err != nil {
				return false, err
			}
			return junk, nil
		case ' ', '\t', '\r', '\n', ',', 0:
		default:
			junk = true
		}
	}
}

// scanObject copies one balanced object into j.buf
func (j *JSON) scanObject() error {
	j.buf.Reset()
	depth := 0
	inString, escaped := false, false
	for {
		c, err := j.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		j.buf.WriteByte(c)

		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return nil
			}
		}
	}
}

func (j *JSON) flatten(prefix string, obj map[string]any, rec *Record) {
	for k, v := range obj {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			j.flatten(name, nested, rec)
			continue
		}
		if v == nil {
			continue
		}
		rec.Fields++
		if i, ok := j.index[name]; ok {
			j.values[i] = stringify(v)
			j.seen[i] = true
		}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
