package models

import "sort"

// Bar is one OHLCV period. Time is the bucket-aligned start in unix seconds.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Valid reports whether b satisfies the OHLC invariants.
func (b Bar) Valid() bool {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return false
	}
	if b.Volume < 0 {
		return false
	}
	return b.Low <= min(b.Open, b.Close) && b.High >= max(b.Open, b.Close)
}

// SeriesType selects one of the two series sharing a dataset's time domain.
type SeriesType string

const (
	SeriesPrice     SeriesType = "price"
	SeriesMarketCap SeriesType = "marketCap"
)

// ParseSeriesType accepts the canonical names plus the "mcap" alias used by older clients.
func ParseSeriesType(s string) (SeriesType, bool) {
	switch s {
	case "", "price":
		return SeriesPrice, true
	case "marketCap", "mcap", "marketcap":
		return SeriesMarketCap, true
	default:
		return "", false
	}
}

// SeriesMetadata describes the time domain of a loaded dataset.
type SeriesMetadata struct {
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
}

// Series is an immutable snapshot of per-second bars for price and market cap.
// Consumers must not mutate the slices.
type Series struct {
	Price     []Bar          `json:"price"`
	MarketCap []Bar          `json:"marketCap"`
	Metadata  SeriesMetadata `json:"metadata"`
}

// Bars returns the base sequence for t.
func (s *Series) Bars(t SeriesType) []Bar {
	if t == SeriesMarketCap {
		return s.MarketCap
	}
	return s.Price
}

// Len returns the number of price bars.
func (s *Series) Len() int { return len(s.Price) }

// NewSeries normalizes raw loader output: both sequences are sorted by time,
// invalid bars and repeated timestamps are dropped, and metadata is derived
// from the union of both sequences. Dropped counts are returned for logging.
func NewSeries(price, marketCap []Bar) (*Series, int) {
	p, droppedP := normalize(price)
	m, droppedM := normalize(marketCap)

	s := &Series{Price: p, MarketCap: m}
	first, last := int64(0), int64(0)
	have := false
	for _, seq := range [][]Bar{p, m} {
		if len(seq) == 0 {
			continue
		}
		if !have || seq[0].Time < first {
			first = seq[0].Time
		}
		if !have || seq[len(seq)-1].Time > last {
			last = seq[len(seq)-1].Time
		}
		have = true
	}
	s.Metadata = SeriesMetadata{StartTime: first, EndTime: last}
	return s, droppedP + droppedM
}

func normalize(in []Bar) ([]Bar, int) {
	out := make([]Bar, 0, len(in))
	for _, b := range in {
		if b.Valid() {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	// keep the first bar for any repeated timestamp
	dedup := out[:0]
	for i, b := range out {
		if i > 0 && b.Time == dedup[len(dedup)-1].Time {
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup, len(in) - len(dedup)
}

// Window returns the sub-slice of bars with time in [start, end].
// bars must be time-ascending.
func Window(bars []Bar, start, end int64) []Bar {
	if start > end || len(bars) == 0 {
		return nil
	}
	lo := sort.Search(len(bars), func(i int) bool { return bars[i].Time >= start })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Time > end })
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}
