// Package protocol implements the length-encoded framing spoken with the
// analysis process: data records, the header record and control messages.
package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Writer frames records as a big-endian field count followed, per field, by a
// big-endian byte length and the field bytes. Writes are buffered until Flush.
type Writer struct {
	bw  *bufio.Writer
	buf [4]byte
}

// NewWriter returns a Writer framing into w
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteRecord frames one record
func (w *Writer) WriteRecord(fields []string) error {
	if err := w.writeUint32(uint32(len(fields))); err != nil {
		return err
	}
	for _, f := range fields {
		if err := w.WriteField(f); err != nil {
			return err
		}
	}
	return nil
}

// WriteNumFields starts a record of n fields written with WriteField
func (w *Writer) WriteNumFields(n int) error {
	return w.writeUint32(uint32(n))
}

// WriteField frames a single field
func (w *Writer) WriteField(f string) error {
	if err := w.writeUint32(uint32(len(f))); err != nil {
		return err
	}
	_, err := w.bw.WriteString(f)
	return err
}

// Flush pushes buffered frames to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

func (w *Writer) writeUint32(v uint32) error {
	binary.BigEndian.PutUint32(w.buf[:], v)
	_, err := w.bw.Write(w.buf[:])
	return err
}
