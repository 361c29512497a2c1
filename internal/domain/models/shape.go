package models

// Shape is the consumer-facing projection applied after aggregation.
type Shape string

const (
	ShapeOHLCV       Shape = "ohlcv"
	ShapeCandlestick Shape = "candlestick"
	ShapeLine        Shape = "line"
)

// CandlePoint is the candlestick projection of a bar.
type CandlePoint struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// LinePoint is the line projection of a bar (value = close).
type LinePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Project converts bars into the requested shape. Unknown shapes fall back to full bars.
func Project(bars []Bar, shape Shape) interface{} {
	switch shape {
	case ShapeCandlestick:
		out := make([]CandlePoint, len(bars))
		for i, b := range bars {
			out[i] = CandlePoint{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
		}
		return out
	case ShapeLine:
		out := make([]LinePoint, len(bars))
		for i, b := range bars {
			out[i] = LinePoint{Time: b.Time, Value: b.Close}
		}
		return out
	default:
		if bars == nil {
			return []Bar{}
		}
		return bars
	}
}
