package reader

import (
	"bufio"
	"errors"
	"io"
)

// SingleLine treats every input line as one record with a single raw field
type SingleLine struct {
	br *bufio.Reader
}

// NewSingleLine returns a single-line reader over r
func NewSingleLine(r io.Reader) *SingleLine {
	return &SingleLine{br: bufio.NewReader(r)}
}

func (s *SingleLine) ReadHeader() ([]string, error) {
	return []string{RawField}, nil
}

func (s *SingleLine) Next() (Record, error) {
	for {
		line, err := s.br.ReadString('\n')
		if line == "" && err != nil {
			return Record{}, err
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return Record{}, err
		}
		line = trimLine(line)
		if line == "" || line == nulLine {
			continue
		}
		return Record{Values: []string{line}, Fields: 1}, nil
	}
}
