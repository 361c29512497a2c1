package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/repository"
	"ChartFeed/internal/service/querycache"
	"ChartFeed/pkg/cache"
)

type countingReader struct {
	domrepo.SeriesReader
	gets int
}

func (c *countingReader) Get(id string) (*models.Series, error) {
	c.gets++
	return c.SeriesReader.Get(id)
}

// fixture: 600 one-second bars ending at 1756909000, origin 1756908401.
func newCandles(t *testing.T, cfg CandlesConfig) (*CandlesUseCase, *models.Series, *querycache.Cache) {
	t.Helper()
	qc := querycache.New(cache.NewMemoryCache())
	store := repository.NewSeriesStore(qc)

	ser, err := repository.NewSyntheticLoader(repository.SyntheticOptions{Seed: 5}).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Replace(context.Background(), "sol", ser))

	return NewCandlesUseCase(store, qc, cfg), ser, qc
}

func ptr(v int64) *int64 { return &v }

func TestGetCandlesDefaults(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{})

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{SeriesID: "sol", Timeframe: domrepo.TF1s})
	require.NoError(t, err)

	// end = dataset now, start = end - 100*1 + 1
	assert.Equal(t, ser.Metadata.EndTime, res.End)
	assert.Equal(t, ser.Metadata.EndTime-99, res.Start)
	require.Equal(t, 100, res.Count)
	assert.Equal(t, ser.Price[500:], res.Bars)
}

func TestGetCandlesAggregatesAndKeepsTail(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{})
	origin := ser.Metadata.StartTime

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		SeriesID:  "sol",
		Timeframe: domrepo.TF1m,
		Start:     ptr(origin),
		End:       ptr(ser.Metadata.EndTime),
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, res.Bars, 3)

	for i := 1; i < len(res.Bars); i++ {
		assert.Equal(t, res.Bars[i-1].Time+60, res.Bars[i].Time)
	}
	last := res.Bars[2]
	assert.Equal(t, ser.Price[len(ser.Price)-1].Close, last.Close)
	assert.Equal(t, int64(0), last.Time%60)
}

func TestGetCandlesMarketCap(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{})

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{
		SeriesID:   "sol",
		Timeframe:  domrepo.TF1s,
		SeriesType: models.SeriesMarketCap,
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Equal(t, ser.MarketCap[590:], res.Bars)
}

func TestGetCandlesCachesByFullKey(t *testing.T) {
	qc := querycache.New(cache.NewMemoryCache())
	store := repository.NewSeriesStore(qc)
	ser, _ := repository.NewSyntheticLoader(repository.SyntheticOptions{}).Load(context.Background())
	require.NoError(t, store.Replace(context.Background(), "sol", ser))

	uc := NewCandlesUseCase(store, qc, CandlesConfig{})
	p := GetCandlesParams{SeriesID: "sol", Timeframe: domrepo.TF5s, Limit: 50}

	first, err := uc.GetCandles(context.Background(), p)
	require.NoError(t, err)
	second, err := uc.GetCandles(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, first.Bars, second.Bars)

	// swapping the dataset must invalidate: a different seed yields different bars
	other, _ := repository.NewSyntheticLoader(repository.SyntheticOptions{Seed: 77}).Load(context.Background())
	require.NoError(t, store.Replace(context.Background(), "sol", other))
	third, err := uc.GetCandles(context.Background(), p)
	require.NoError(t, err)
	assert.NotEqual(t, first.Bars, third.Bars)
}

// reloadingReader hands out the current snapshot and then swaps in next, as a
// reload racing with a query would.
type reloadingReader struct {
	store *repository.SeriesStore
	next  *models.Series
	once  bool
}

func (r *reloadingReader) Get(id string) (*models.Series, error) {
	ser, err := r.store.Get(id)
	if err == nil && !r.once {
		r.once = true
		if err := r.store.Replace(context.Background(), id, r.next); err != nil {
			return nil, err
		}
	}
	return ser, err
}

func TestReloadDuringQueryDoesNotCacheOldSnapshot(t *testing.T) {
	ctx := context.Background()
	qc := querycache.New(cache.NewMemoryCache())
	store := repository.NewSeriesStore(qc)
	old, err := repository.NewSyntheticLoader(repository.SyntheticOptions{Seed: 1}).Load(ctx)
	require.NoError(t, err)
	fresh, err := repository.NewSyntheticLoader(repository.SyntheticOptions{Seed: 2}).Load(ctx)
	require.NoError(t, err)
	require.NotEqual(t, old.Price[len(old.Price)-1].Close, fresh.Price[len(fresh.Price)-1].Close)
	require.NoError(t, store.Replace(ctx, "sol", old))

	p := GetCandlesParams{SeriesID: "sol", Timeframe: domrepo.TF1s, Limit: 10}
	racing := NewCandlesUseCase(&reloadingReader{store: store, next: fresh}, qc, CandlesConfig{})
	res, err := racing.GetCandles(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, old.Price[len(old.Price)-1].Close, res.Bars[9].Close)

	res, err = NewCandlesUseCase(store, qc, CandlesConfig{}).GetCandles(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, fresh.Price[len(fresh.Price)-1].Close, res.Bars[9].Close)

	page, err := racing.GetPage(ctx, GetPageParams{
		SeriesID: "sol", Timeframe: domrepo.TF1s, Start: ptr(fresh.Metadata.StartTime), End: ptr(fresh.Metadata.EndTime), PageSize: 600,
	})
	require.NoError(t, err)
	assert.Equal(t, fresh.Price, page.Bars)
}

func TestGetCandlesRangeErrors(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{MaxSpan: 600})
	ctx := context.Background()

	_, err := uc.GetCandles(ctx, GetCandlesParams{SeriesID: "sol", Timeframe: domrepo.TF1m, Limit: 11})
	assert.NoError(t, err, "start is clamped to the origin before the cap applies")

	_, err = uc.GetCandles(ctx, GetCandlesParams{
		SeriesID: "sol", Timeframe: domrepo.TF1s,
		Start: ptr(ser.Metadata.StartTime), End: ptr(ser.Metadata.StartTime + 600),
	})
	assert.ErrorIs(t, err, domrepo.ErrRangeTooLarge)

	res, err := uc.GetCandles(ctx, GetCandlesParams{
		SeriesID: "sol", Timeframe: domrepo.TF1s,
		Start: ptr(0), End: ptr(ser.Metadata.StartTime - 1),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Bars)
	assert.NotNil(t, res.Bars)

	_, err = uc.GetCandles(ctx, GetCandlesParams{SeriesID: "sol", Timeframe: "2m"})
	assert.ErrorIs(t, err, domrepo.ErrUnknownTimeframe)

	_, err = uc.GetCandles(ctx, GetCandlesParams{SeriesID: "nope", Timeframe: domrepo.TF1m})
	assert.True(t, errors.Is(err, domrepo.ErrSeriesNotFound))
}

func TestGetPage(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{})
	ctx := context.Background()
	from, to := ser.Metadata.StartTime, ser.Metadata.EndTime

	res, err := uc.GetPage(ctx, GetPageParams{SeriesID: "sol", Timeframe: domrepo.TF1s, Start: ptr(from), End: ptr(to), Page: 2, PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 600, res.Total)
	assert.True(t, res.HasMore)
	assert.Equal(t, ser.Price[200:300], res.Bars)

	res, err = uc.GetPage(ctx, GetPageParams{SeriesID: "sol", Timeframe: domrepo.TF1s, Start: ptr(from), End: ptr(to), Page: 5, PageSize: 100})
	require.NoError(t, err)
	assert.False(t, res.HasMore)
	assert.Len(t, res.Bars, 100)

	res, err = uc.GetPage(ctx, GetPageParams{SeriesID: "sol", Timeframe: domrepo.TF1s, Start: ptr(from), End: ptr(to), Page: 9, PageSize: 100})
	require.NoError(t, err)
	assert.Empty(t, res.Bars)

	_, err = uc.GetPage(ctx, GetPageParams{SeriesID: "sol", Timeframe: domrepo.TF1s, End: ptr(to), PageSize: 100})
	assert.ErrorIs(t, err, domrepo.ErrInvalidParameters)
}

func TestLimitsClampToMaxLimit(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{MaxLimit: 5})

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{SeriesID: "sol", Timeframe: domrepo.TF1s, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, ser.Metadata.EndTime-4, res.Start)

	page, err := uc.GetPage(context.Background(), GetPageParams{
		SeriesID: "sol", Timeframe: domrepo.TF1s, Start: ptr(ser.Metadata.StartTime), End: ptr(ser.Metadata.EndTime), PageSize: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.PageSize)
	assert.Len(t, page.Bars, 5)
	assert.True(t, page.HasMore)
}

func TestFetchBarsMatchesGetCandles(t *testing.T) {
	uc, ser, _ := newCandles(t, CandlesConfig{})
	end := ser.Metadata.EndTime

	bars, err := uc.FetchBars(context.Background(), domrepo.BarsQuery{
		SeriesID: "sol", Timeframe: domrepo.TF1s, End: &end, Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, ser.Price[580:], bars)
}

func TestSeriesReadsGoThroughReader(t *testing.T) {
	qc := querycache.New(cache.NewMemoryCache())
	store := repository.NewSeriesStore(qc)
	ser, _ := repository.NewSyntheticLoader(repository.SyntheticOptions{}).Load(context.Background())
	require.NoError(t, store.Replace(context.Background(), "sol", ser))

	reader := &countingReader{SeriesReader: store}
	uc := NewCandlesUseCase(reader, qc, CandlesConfig{})
	_, err := uc.GetCandles(context.Background(), GetCandlesParams{SeriesID: "sol", Timeframe: domrepo.TF1m})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.gets)
}
