package repository

import (
	"context"

	"ChartFeed/internal/domain/models"
)

// SeriesLoader produces a fully formed base series. Implementations may read
// files, databases, or generate data; the engine does not care which.
type SeriesLoader interface {
	Load(ctx context.Context) (*models.Series, error)
	Source() string
}

// SeriesReader is the read side of the dataset store.
type SeriesReader interface {
	Get(id string) (*models.Series, error)
}

// Invalidator drops every cached result derived from a dataset.
type Invalidator interface {
	InvalidateSeries(ctx context.Context, seriesID string) error
}

// BarsQuery is the inbound query shape shared by HTTP, websocket sessions and the CLI.
// Nil Start/End take their defaults (trailing window ending at dataset now).
type BarsQuery struct {
	SeriesID   string
	Timeframe  Timeframe
	SeriesType models.SeriesType
	Start      *int64
	End        *int64
	Limit      int
}

// BarsFetcher answers bar queries. Backfill sessions depend on it so that the same
// controller runs in-process or against a remote API.
type BarsFetcher interface {
	FetchBars(ctx context.Context, q BarsQuery) ([]models.Bar, error)
}

// InvalidationPublisher fans out dataset reloads to other replicas.
type InvalidationPublisher interface {
	PublishReload(ctx context.Context, seriesID string) error
	Close() error
}

type Metrics interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordAggregation(tf string, inBars, outBars int, seconds float64)
	RecordRangeRejected(reason string)
	RecordBackfill(outcome string)
	RecordSeriesLoad(seriesID, source string, bars int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
