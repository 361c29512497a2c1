package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseUnix reads a query timestamp given as unix seconds or RFC3339.
// ok is false for an empty (absent) value. Unix 0 and negative values are valid.
func ParseUnix(s string) (ts int64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix(), true, nil
	}
	return 0, false, fmt.Errorf("invalid timestamp %q", s)
}

// FormatUnix renders unix seconds as RFC3339 UTC for logs and CLI output.
func FormatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
