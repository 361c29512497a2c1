package rangeguard

import (
	"fmt"

	"ChartFeed/internal/domain/repository"
)

// DefaultMaxSpan is the widest pre-aggregation window a single query may cover (30 days).
const DefaultMaxSpan int64 = 30 * 24 * 60 * 60

// Range is a clamped query window. Empty means the caller should answer with no bars
// without consulting the cache or the aggregator.
type Range struct {
	Start int64
	End   int64
	Empty bool
}

// Span returns the inclusive number of seconds covered.
func (r Range) Span() int64 {
	if r.Empty {
		return 0
	}
	return r.End - r.Start + 1
}

// Clamp raises start to the dataset origin and enforces maxSpan. The end is never
// clamped against dataset now: a window ending in the future is served from
// whatever data exists.
func Clamp(start, end, origin, _, maxSpan int64) (Range, error) {
	if start > end {
		return Range{Empty: true}, nil
	}
	if start < origin {
		start = origin
	}
	if start > end {
		return Range{Empty: true}, nil
	}
	if maxSpan > 0 && end-start+1 > maxSpan {
		return Range{}, fmt.Errorf("%w: %d seconds requested, cap is %d", repository.ErrRangeTooLarge, end-start+1, maxSpan)
	}
	return Range{Start: start, End: end}, nil
}
