package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/service/querycache"
	"ChartFeed/internal/services/rangeguard"
	"ChartFeed/internal/services/resample"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
)

// CandlesConfig bounds inbound queries.
type CandlesConfig struct {
	MaxSpan      int64
	DefaultLimit int
	MaxLimit     int
}

// CandlesUseCase answers full-range and paginated bar queries through
// Range Guard, the query cache and the bucket aggregator.
type CandlesUseCase struct {
	series  domrepo.SeriesReader
	cache   *querycache.Cache
	metrics domrepo.Metrics
	cfg     CandlesConfig
	l       *applogger.Logger
}

func NewCandlesUseCase(series domrepo.SeriesReader, cache *querycache.Cache, cfg CandlesConfig) *CandlesUseCase {
	if cfg.MaxSpan <= 0 {
		cfg.MaxSpan = rangeguard.DefaultMaxSpan
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 50000
	}
	return &CandlesUseCase{
		series:  series,
		cache:   cache,
		metrics: metrics.Nop{},
		cfg:     cfg,
		l:       applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (uc *CandlesUseCase) SetLogger(l *applogger.Logger) {
	if l != nil {
		uc.l = l
	}
}

// SetMetrics injects a metrics recorder.
func (uc *CandlesUseCase) SetMetrics(m domrepo.Metrics) {
	if m != nil {
		uc.metrics = m
	}
}

type GetCandlesParams struct {
	SeriesID   string
	Timeframe  domrepo.Timeframe
	SeriesType models.SeriesType
	Start      *int64
	End        *int64
	Limit      int
}

type GetCandlesResult struct {
	SeriesID   string            `json:"seriesId"`
	Timeframe  string            `json:"timeframe"`
	SeriesType models.SeriesType `json:"type"`
	Start      int64             `json:"start"`
	End        int64             `json:"end"`
	Count      int               `json:"count"`
	Bars       []models.Bar      `json:"-"`
}

// GetCandles returns at most Limit bars of the requested timeframe. A missing End
// means dataset now; a missing Start means End - Limit*barSeconds + 1.
func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	started := time.Now()
	defer func() { uc.metrics.RecordLatency("candles.get", time.Since(started).Seconds()) }()

	if p.SeriesID == "" {
		return nil, fmt.Errorf("%w: series required", domrepo.ErrInvalidParameters)
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		return nil, fmt.Errorf("%w: %q", domrepo.ErrUnknownTimeframe, p.Timeframe)
	}
	if p.SeriesType == "" {
		p.SeriesType = models.SeriesPrice
	}
	if p.Limit <= 0 {
		p.Limit = uc.cfg.DefaultLimit
	}
	if p.Limit > uc.cfg.MaxLimit {
		p.Limit = uc.cfg.MaxLimit
	}

	// read before the snapshot so a reload in between keeps the result out of the cache
	gen := uc.cache.Generation(p.SeriesID)
	ser, err := uc.series.Get(p.SeriesID)
	if err != nil {
		return nil, err
	}

	end := ser.Metadata.EndTime
	if p.End != nil {
		end = *p.End
	}
	start := end - int64(p.Limit)*p.Timeframe.Seconds() + 1
	if p.Start != nil {
		start = *p.Start
	}

	res := &GetCandlesResult{
		SeriesID:   p.SeriesID,
		Timeframe:  string(p.Timeframe),
		SeriesType: p.SeriesType,
		Bars:       []models.Bar{},
	}

	r, err := uc.guard(start, end, ser)
	if err != nil {
		uc.l.Warn("candles.get range_rejected",
			applogger.String("series", p.SeriesID),
			applogger.Int64("start", start),
			applogger.Int64("end", end),
		)
		return nil, err
	}
	if r.Empty {
		res.Start, res.End = start, end
		return res, nil
	}
	res.Start, res.End = r.Start, r.End

	key := querycache.Key{
		SeriesID:   p.SeriesID,
		Timeframe:  p.Timeframe,
		Start:      r.Start,
		End:        r.End,
		SeriesType: p.SeriesType,
		Limit:      p.Limit,
	}
	bars, err := uc.cache.GetOrComputeAt(ctx, key, gen, func() ([]models.Bar, error) {
		return uc.compute(ser, key), nil
	})
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	res.Bars = bars
	res.Count = len(bars)
	return res, nil
}

type GetPageParams struct {
	SeriesID   string
	Timeframe  domrepo.Timeframe
	SeriesType models.SeriesType
	Start      *int64
	End        *int64
	Page       int
	PageSize   int
}

type GetPageResult struct {
	SeriesID   string            `json:"seriesId"`
	Timeframe  string            `json:"timeframe"`
	SeriesType models.SeriesType `json:"type"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	Total      int               `json:"total"`
	HasMore    bool              `json:"hasMore"`
	Bars       []models.Bar      `json:"-"`
}

// GetPage aggregates the explicit [Start, End] window and returns the slice
// [Page*PageSize, Page*PageSize+PageSize). Both bounds are required.
func (uc *CandlesUseCase) GetPage(ctx context.Context, p GetPageParams) (*GetPageResult, error) {
	started := time.Now()
	defer func() { uc.metrics.RecordLatency("candles.page", time.Since(started).Seconds()) }()

	if p.Start == nil || p.End == nil {
		return nil, fmt.Errorf("%w: start and end are required", domrepo.ErrInvalidParameters)
	}
	if p.Page < 0 || p.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page must be >= 0 and pageSize > 0", domrepo.ErrInvalidParameters)
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		return nil, fmt.Errorf("%w: %q", domrepo.ErrUnknownTimeframe, p.Timeframe)
	}
	if p.SeriesType == "" {
		p.SeriesType = models.SeriesPrice
	}
	p.PageSize = min(p.PageSize, uc.cfg.MaxLimit)

	gen := uc.cache.Generation(p.SeriesID)
	ser, err := uc.series.Get(p.SeriesID)
	if err != nil {
		return nil, err
	}

	res := &GetPageResult{
		SeriesID:   p.SeriesID,
		Timeframe:  string(p.Timeframe),
		SeriesType: p.SeriesType,
		Page:       p.Page,
		PageSize:   p.PageSize,
		Bars:       []models.Bar{},
	}

	r, err := uc.guard(*p.Start, *p.End, ser)
	if err != nil {
		return nil, err
	}
	if r.Empty {
		return res, nil
	}

	key := querycache.Key{
		SeriesID:   p.SeriesID,
		Timeframe:  p.Timeframe,
		Start:      r.Start,
		End:        r.End,
		SeriesType: p.SeriesType,
	}
	all, err := uc.cache.GetOrComputeAt(ctx, key, gen, func() ([]models.Bar, error) {
		return uc.compute(ser, key), nil
	})
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}

	res.Total = len(all)
	from := p.Page * p.PageSize
	if from < len(all) {
		to := min(from+p.PageSize, len(all))
		res.Bars = all[from:to]
		res.HasMore = to < len(all)
	}
	return res, nil
}

// FetchBars lets in-process backfill sessions query through the same path as HTTP.
func (uc *CandlesUseCase) FetchBars(ctx context.Context, q domrepo.BarsQuery) ([]models.Bar, error) {
	res, err := uc.GetCandles(ctx, GetCandlesParams{
		SeriesID:   q.SeriesID,
		Timeframe:  q.Timeframe,
		SeriesType: q.SeriesType,
		Start:      q.Start,
		End:        q.End,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return res.Bars, nil
}

func (uc *CandlesUseCase) guard(start, end int64, ser *models.Series) (rangeguard.Range, error) {
	r, err := rangeguard.Clamp(start, end, ser.Metadata.StartTime, ser.Metadata.EndTime, uc.cfg.MaxSpan)
	switch {
	case errors.Is(err, domrepo.ErrRangeTooLarge):
		uc.metrics.RecordRangeRejected("too_large")
	case err == nil && r.Empty:
		uc.metrics.RecordRangeRejected("empty")
	}
	return r, err
}

// compute is the cache miss path: window, aggregate, keep the tail.
func (uc *CandlesUseCase) compute(ser *models.Series, key querycache.Key) []models.Bar {
	started := time.Now()
	base := models.Window(ser.Bars(key.SeriesType), key.Start, key.End)

	var out []models.Bar
	if key.Timeframe.Seconds() <= 1 {
		out = slices.Clone(base)
	} else {
		out = resample.Aggregate(base, key.Timeframe.Seconds())
	}
	if out == nil {
		out = []models.Bar{}
	}
	if key.Limit > 0 && len(out) > key.Limit {
		out = out[len(out)-key.Limit:]
	}

	elapsed := time.Since(started)
	uc.metrics.RecordAggregation(string(key.Timeframe), len(base), len(out), elapsed.Seconds())
	uc.l.Debug("candles.compute cache_miss",
		applogger.String("key", key.String()),
		applogger.Int("in", len(base)),
		applogger.Int("out", len(out)),
		applogger.Duration("duration_ms", elapsed),
	)
	return out
}
