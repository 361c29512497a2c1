package models

// Requests for the HTTP endpoints. Start/End stay strings so that an absent
// value is distinguishable from unix time 0. An empty TF takes the endpoint default.
// Limit and PageSize are clamped to engine.max_limit by the use case.

type CandlesRequest struct {
	Series string `param:"series" validate:"required"`
	TF     string `query:"tf"`
	Start  string `query:"start"`
	End    string `query:"end"`
	Type   string `query:"type" default:"price" validate:"oneof=price marketCap marketcap mcap"`
	Limit  int    `query:"limit" validate:"gte=0"`
	Shape  string `query:"shape" default:"ohlcv" validate:"oneof=ohlcv candlestick line"`
}

type PaginatedRequest struct {
	Series   string `param:"series" validate:"required"`
	TF       string `query:"tf" default:"1s"`
	Start    string `query:"start"`
	End      string `query:"end"`
	Type     string `query:"type" default:"price" validate:"oneof=price marketCap marketcap mcap"`
	Page     int    `query:"page" validate:"gte=0"`
	PageSize int    `query:"pageSize" default:"100" validate:"gte=1"`
	Shape    string `query:"shape" default:"ohlcv" validate:"oneof=ohlcv candlestick line"`
}

type SeriesRequest struct {
	Series string `param:"series" validate:"required"`
}

// ChartSessionRequest opens a websocket chart session.
type ChartSessionRequest struct {
	Series string `param:"series" validate:"required"`
	TF     string `query:"tf"`
	Type   string `query:"type" default:"price" validate:"oneof=price marketCap marketcap mcap"`
	Shape  string `query:"shape" default:"ohlcv" validate:"oneof=ohlcv candlestick line"`
}
