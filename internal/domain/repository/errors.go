package repository

import "errors"

var (
	// ErrRangeTooLarge is returned when a clamped window exceeds the span cap.
	ErrRangeTooLarge = errors.New("range too large")
	// ErrInvalidParameters rejects a request before any aggregation work.
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrUnknownTimeframe  = errors.New("unknown timeframe")
	ErrUnknownSeriesType = errors.New("unknown series type")
	ErrSeriesNotFound    = errors.New("series not found")
	// ErrTransport wraps fetch failures during initial load or backfill.
	ErrTransport = errors.New("transport failure")
)
