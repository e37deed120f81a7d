package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"go-anomaly-pipeline/internal/errs"
)

// Decode wraps body according to its Content-Encoding. The caller closes the
// returned reader.
func Decode(body io.Reader, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, errs.DataErr(fmt.Errorf("invalid gzip body: %w", err))
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(body), nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, errs.DataErr(fmt.Errorf("invalid zstd body: %w", err))
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, errs.Structuralf("unsupported content encoding: %s", contentEncoding)
	}
}
