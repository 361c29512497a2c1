package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
	"ChartFeed/pkg/sqlite"
)

func newSQLiteStore(t *testing.T) *SQLBarStore {
	t.Helper()
	ctx := context.Background()
	c, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s := NewSQLBarStore(c.DB(), SQLiteDialect, "bars_1s")
	require.NoError(t, s.InitSchema(ctx))
	require.NoError(t, s.InitSchema(ctx), "schema init must be idempotent")
	return s
}

func TestSQLBarStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	ser, err := NewSyntheticLoader(SyntheticOptions{Seconds: 2500, Seed: 1}).Load(ctx)
	require.NoError(t, err)

	written := 0
	require.NoError(t, s.StoreBatch(ctx, "SOL", ser.Price, func(n int) { written += n }))
	assert.Equal(t, 2500, written)

	// a second symbol must not leak into the first
	require.NoError(t, s.StoreBatch(ctx, "BONK", ser.Price[:10], nil))

	got, err := s.LatestBars(ctx, "SOL", 600)
	require.NoError(t, err)
	require.Len(t, got, 600)
	assert.Equal(t, ser.Price[len(ser.Price)-600:], got)
}

func TestSQLBarStoreUnknownSymbol(t *testing.T) {
	s := newSQLiteStore(t)
	got, err := s.LatestBars(context.Background(), "NOPE", 600)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLLoaderDerivesMarketCap(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	bars := []models.Bar{
		{Time: 100, Open: 0.5, High: 0.6, Low: 0.4, Close: 0.55, Volume: 3},
		{Time: 101, Open: 0.55, High: 0.7, Low: 0.5, Close: 0.6, Volume: 4},
	}
	require.NoError(t, s.StoreBatch(ctx, "SOL", bars, nil))

	ser, err := NewSQLLoader(s, "SOL", decimal.NewFromInt(1000), 3600).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", NewSQLLoader(s, "SOL", decimal.NewFromInt(1000), 3600).Source())
	require.Len(t, ser.MarketCap, 2)
	assert.Equal(t, 550.0, ser.MarketCap[0].Close)
	assert.Equal(t, 700.0, ser.MarketCap[1].High)
	assert.Equal(t, int64(4), ser.MarketCap[1].Volume)
	assert.Equal(t, models.SeriesMetadata{StartTime: 100, EndTime: 101}, ser.Metadata)
}
