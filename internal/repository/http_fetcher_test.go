package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "ChartFeed/internal/domain/repository"
)

func TestHTTPBarsFetcher(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		switch r.URL.Path {
		case "/api/candles/sol":
			w.Write([]byte(`{"status":200,"message":"OK","data":{"count":2,"bars":[
				{"time":60,"open":1,"high":2,"low":0.5,"close":1.5,"volume":3},
				{"time":120,"open":1.5,"high":2,"low":1,"close":1,"volume":4}]}}`))
		case "/api/series/sol":
			w.Write([]byte(`{"status":200,"message":"OK","data":{"id":"sol","startTime":60,"endTime":179,"bars":120}}`))
		case "/api/candles/empty":
			w.Write([]byte(`{"status":200,"message":"OK","data":{"count":0,"bars":[]}}`))
		case "/api/candles/big":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":400,"message":"Bad Request","data":[{"code":"ERR_RANGE_TOO_LARGE","message":"range too large"}]}`))
		case "/api/candles/tf":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":400,"data":[{"code":"ERR_INVALID_PARAMETERS","field":"tf","message":"unknown timeframe"}]}`))
		case "/api/candles/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":404,"data":[{"code":"ERR_NOT_FOUND","message":"series not found"}]}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`upstream down`))
		}
	}))
	defer srv.Close()

	f := NewHTTPBarsFetcher(srv.URL+"/", nil)
	start, end := int64(60), int64(179)

	bars, err := f.FetchBars(context.Background(), domrepo.BarsQuery{
		SeriesID: "sol", Timeframe: domrepo.TF1m, SeriesType: "marketCap", Start: &start, End: &end, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(120), bars[1].Time)
	assert.Equal(t, int64(4), bars[1].Volume)
	assert.Equal(t, "/api/candles/sol", gotPath)
	assert.Equal(t, "end=179&limit=2&shape=ohlcv&start=60&tf=1m&type=marketCap", gotQuery)

	from, to, err := f.SeriesBounds(context.Background(), "sol")
	require.NoError(t, err)
	assert.Equal(t, int64(60), from)
	assert.Equal(t, int64(179), to)
	_, _, err = f.SeriesBounds(context.Background(), "gone")
	assert.ErrorIs(t, err, domrepo.ErrTransport)

	bars, err = f.FetchBars(context.Background(), domrepo.BarsQuery{SeriesID: "empty", Timeframe: domrepo.TF1s})
	require.NoError(t, err)
	assert.NotNil(t, bars)
	assert.Empty(t, bars)

	cases := map[string]error{
		"big":     domrepo.ErrRangeTooLarge,
		"tf":      domrepo.ErrUnknownTimeframe,
		"missing": domrepo.ErrSeriesNotFound,
		"down":    domrepo.ErrTransport,
	}
	for id, want := range cases {
		_, err := f.FetchBars(context.Background(), domrepo.BarsQuery{SeriesID: id, Timeframe: domrepo.TF1s})
		assert.ErrorIs(t, err, want, id)
	}
}

func TestHTTPBarsFetcherUnreachable(t *testing.T) {
	f := NewHTTPBarsFetcher("http://127.0.0.1:1", nil)
	_, err := f.FetchBars(context.Background(), domrepo.BarsQuery{SeriesID: "sol", Timeframe: domrepo.TF1s})
	assert.ErrorIs(t, err, domrepo.ErrTransport)
}
