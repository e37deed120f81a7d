package protocol

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// HeaderMarker fills the control field of the header record
const HeaderMarker = "."

// Control message codes
const (
	codeAdvanceTime  = "t"
	codeCalcInterim  = "i"
	codeFlush        = "f"
	codeResetBuckets = "r"
)

// FlushPadding is the number of spaces written after a flush message so the
// analysis process's input buffer is filled and the flush is seen at once
const FlushPadding = 8192

var flushPadding = strings.Repeat(" ", FlushPadding)

// FlushParams controls which messages precede a flush
type FlushParams struct {
	CalcInterim bool
	// Start and End bound interim calculation; both zero means the whole
	// latency window
	Start int64
	End   int64
	// AdvanceTime moves the process's notion of time forward when non-zero
	AdvanceTime int64
}

// HasRange reports whether an explicit interim range was requested
func (p FlushParams) HasRange() bool {
	return p.Start != 0 || p.End != 0
}

// ControlWriter writes control messages as records of the same width as the
// data records, with every data field empty and the message in the trailing
// control field.
type ControlWriter struct {
	w         *Writer
	numFields int
	flushID   *atomic.Uint64
}

// NewControlWriter returns a ControlWriter for records of numFields fields.
// Flush ids are drawn from ids so they stay unique across writers of a job.
func NewControlWriter(w *Writer, numFields int, ids *atomic.Uint64) *ControlWriter {
	if ids == nil {
		ids = new(atomic.Uint64)
	}
	return &ControlWriter{w: w, numFields: numFields, flushID: ids}
}

func (c *ControlWriter) writeMessage(msg string) error {
	if err := c.w.WriteNumFields(c.numFields); err != nil {
		return err
	}
	for i := 0; i < c.numFields-1; i++ {
		if err := c.w.WriteField(""); err != nil {
			return err
		}
	}
	return c.w.WriteField(msg)
}

// WriteResetBuckets asks the process to discard results for [start, end)
func (c *ControlWriter) WriteResetBuckets(start, end int64) error {
	return c.writeMessage(codeResetBuckets + strconv.FormatInt(start, 10) + " " + strconv.FormatInt(end, 10))
}

// WriteFlushParams writes the advance-time and interim calculation messages
// p asks for, in that order
func (c *ControlWriter) WriteFlushParams(p FlushParams) error {
	if p.AdvanceTime != 0 {
		if err := c.writeMessage(codeAdvanceTime + strconv.FormatInt(p.AdvanceTime, 10)); err != nil {
			return err
		}
	}
	if p.CalcInterim {
		msg := codeCalcInterim
		if p.HasRange() {
			msg += strconv.FormatInt(p.Start, 10) + " " + strconv.FormatInt(p.End, 10)
		}
		if err := c.writeMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// WriteFlush writes a flush request followed by the padding record and
// flushes the stream. It returns the id the process will acknowledge.
func (c *ControlWriter) WriteFlush() (string, error) {
	id := strconv.FormatUint(c.flushID.Add(1), 10)
	if err := c.writeMessage(codeFlush + id); err != nil {
		return "", err
	}
	if err := c.writeMessage(flushPadding); err != nil {
		return "", err
	}
	return id, c.w.Flush()
}
