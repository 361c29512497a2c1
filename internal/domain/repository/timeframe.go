package repository

import "fmt"

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1s  Timeframe = "1s"
	TF5s  Timeframe = "5s"
	TF15s Timeframe = "15s"
	TF30s Timeframe = "30s"
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF24h Timeframe = "24h"
	TF1w  Timeframe = "1w"
)

var tfSeconds = map[Timeframe]int64{
	TF1s:  1,
	TF5s:  5,
	TF15s: 15,
	TF30s: 30,
	TF1m:  60,
	TF5m:  300,
	TF15m: 900,
	TF30m: 1800,
	TF1h:  3600,
	TF4h:  14400,
	TF6h:  21600,
	TF24h: 86400,
	TF1w:  604800,
}

// Initial window sizes in bars. The coarse frames stay under the 30-day span cap.
var tfInitialBars = map[Timeframe]int{
	TF1s:  3600,
	TF5s:  720,
	TF15s: 240,
	TF30s: 240,
	TF1m:  1440,
	TF5m:  288,
	TF15m: 192,
	TF30m: 192,
	TF1h:  168,
	TF4h:  168,
	TF6h:  120,
	TF24h: 30,
	TF1w:  4,
}

// Timeframes lists every supported timeframe in ascending duration.
func Timeframes() []Timeframe {
	return []Timeframe{TF1s, TF5s, TF15s, TF30s, TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF6h, TF24h, TF1w}
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := tfSeconds[tf]
	return ok
}

// Seconds returns the bar duration. Zero for unknown timeframes.
func (tf Timeframe) Seconds() int64 { return tfSeconds[tf] }

// InitialBars returns how many bars a fresh chart session loads.
func (tf Timeframe) InitialBars() int {
	if n, ok := tfInitialBars[tf]; ok {
		return n
	}
	return 200
}

// Backfillable reports whether the timeframe loads progressively instead of eagerly.
func (tf Timeframe) Backfillable() bool { return tf == TF1s || tf == TF1m }

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// ParseTimeframe resolves raw input. Empty input yields def; unknown values are rejected
// instead of being folded into a default.
func ParseTimeframe(s string, def Timeframe) (Timeframe, error) {
	if s == "" {
		return def, nil
	}
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTimeframe, s)
	}
	return tf, nil
}
