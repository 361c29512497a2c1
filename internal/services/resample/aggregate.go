package resample

import (
	"sort"

	"ChartFeed/internal/domain/models"
)

// Aggregate resamples time-ascending per-second bars into bars of barSeconds.
//
// Each output bar takes the open of the first input in its bucket, the max high,
// the min low, the close of the last input and the summed volume. Bucket keys are
// floor(time/barSeconds)*barSeconds, so unaligned input timestamps still land in
// the right bucket. barSeconds <= 1 returns bars unchanged.
func Aggregate(bars []models.Bar, barSeconds int64) []models.Bar {
	if barSeconds <= 1 {
		return bars
	}
	if len(bars) == 0 {
		return []models.Bar{}
	}

	estimate := int64(len(bars))/barSeconds + 1
	index := make(map[int64]int, estimate)
	out := make([]models.Bar, 0, estimate)
	sorted := true
	for _, b := range bars {
		key := BucketStart(b.Time, barSeconds)
		i, ok := index[key]
		if !ok {
			if n := len(out); n > 0 && out[n-1].Time > key {
				sorted = false
			}
			index[key] = len(out)
			out = append(out, models.Bar{
				Time:   key,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
			continue
		}
		row := &out[i]
		row.High = max(row.High, b.High)
		row.Low = min(row.Low, b.Low)
		row.Close = b.Close
		row.Volume += b.Volume
	}
	if !sorted {
		sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	}
	return out
}

// BucketStart floors t to a multiple of barSeconds, rounding toward negative infinity.
func BucketStart(t, barSeconds int64) int64 {
	q := t / barSeconds
	if t%barSeconds != 0 && t < 0 {
		q--
	}
	return q * barSeconds
}
