package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go-anomaly-pipeline/internal/model"
)

// timeParser converts the raw time field of a record to epoch seconds
type timeParser func(string) (int64, error)

func newTimeParser(format string) (timeParser, error) {
	switch format {
	case model.TimeFormatEpoch, "":
		return parseEpoch, nil
	case model.TimeFormatEpochMs:
		return parseEpochMs, nil
	}

	// a layout must at least render a reference time differently from itself
	if time.Unix(0, 0).UTC().Format(format) == format {
		return nil, fmt.Errorf("invalid time format %q", format)
	}
	return func(s string) (int64, error) {
		t, err := time.Parse(format, strings.TrimSpace(s))
		if err != nil {
			return 0, err
		}
		return t.Unix(), nil
	}, nil
}

func parseEpoch(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse epoch %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("cannot parse epoch %q", s)
	}
	return int64(math.Floor(f)), nil
}

func parseEpochMs(s string) (int64, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse epoch_ms %q: %w", s, err)
	}
	return ms / 1000, nil
}
