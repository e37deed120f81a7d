package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Limits guarding against allocating for a corrupt count or length prefix
const (
	maxFieldCount  = 1 << 16
	maxFieldLength = 1 << 26
)

// Decoder reads records framed by Writer
type Decoder struct {
	br  *bufio.Reader
	buf [4]byte
}

// NewDecoder returns a Decoder over r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at a clean end of stream
func (d *Decoder) Next() ([]string, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	if n > maxFieldCount {
		return nil, fmt.Errorf("field count %d exceeds limit", n)
	}

	fields := make([]string, n)
	for i := range fields {
		l, err := d.readUint32()
		if err != nil {
			return nil, unexpected(err)
		}
		if l > maxFieldLength {
			return nil, fmt.Errorf("field length %d exceeds limit", l)
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(d.br, b); err != nil {
			return nil, unexpected(err)
		}
		fields[i] = string(b)
	}
	return fields, nil
}

func (d *Decoder) readUint32() (uint32, error) {
	if _, err := io.ReadFull(d.br, d.buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.buf[:]), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ControlMessage returns the control message carried by a non-header record,
// if any. Data records carry an empty control field.
func ControlMessage(fields []string) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	msg := fields[len(fields)-1]
	if msg == "" {
		return "", false
	}
	for _, f := range fields[:len(fields)-1] {
		if f != "" {
			return "", false
		}
	}
	return msg, true
}

// IsPadding reports whether msg is the filler written after a flush
func IsPadding(msg string) bool {
	return len(msg) == FlushPadding && strings.Trim(msg, " ") == ""
}
