package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/repository"
	"ChartFeed/internal/service/querycache"
	"ChartFeed/internal/usecase"
	"ChartFeed/pkg/cache"
	xlogger "ChartFeed/pkg/logger"
)

// two hours of one-second bars ending at the synthetic default now
const (
	now    = repository.DefaultSyntheticNow
	origin = now - 7199
)

type frame struct {
	Type       string `json:"type"`
	Session    string `json:"session"`
	Timeframe  string `json:"tf"`
	SeriesType string `json:"seriesType"`
	Bars       []struct {
		Time  int64   `json:"time"`
		Value float64 `json:"value"`
	} `json:"bars"`
	Total    int    `json:"total"`
	Decision string `json:"decision"`
	Message  string `json:"message"`
}

func newChartServer(t *testing.T) *httptest.Server {
	t.Helper()
	qc := querycache.New(cache.NewMemoryCache())
	store := repository.NewSeriesStore(qc)
	ser, err := repository.NewSyntheticLoader(repository.SyntheticOptions{Seed: 9, Seconds: 7200}).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Replace(context.Background(), "demo", ser))

	candles := usecase.NewCandlesUseCase(store, qc, usecase.CandlesConfig{})
	cfg := usecase.DefaultBackfillConfig()
	cfg.Throttle = 0

	e := echo.New()
	NewChartHandler(xlogger.Nop(), store, candles, domrepo.TF1m, cfg).RegisterRoutes(e, e.Group("/api"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for range 10 {
		if f := read(t, conn); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return frame{}
}

func TestChartSessionSnapshotAndBackfill(t *testing.T) {
	srv := newChartServer(t)
	conn := dial(t, srv, "/ws/chart/demo?tf=1s&shape=line")

	snap := read(t, conn)
	require.Equal(t, "snapshot", snap.Type)
	assert.Len(t, snap.Session, 36)
	assert.Equal(t, "1s", snap.Timeframe)
	require.Len(t, snap.Bars, 3600)
	assert.Equal(t, now, snap.Bars[3599].Time)
	earliest := snap.Bars[0].Time
	assert.Equal(t, now-3599, earliest)
	assert.NotZero(t, snap.Bars[0].Value)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "viewport", "barsBefore": 10, "visibleFrom": earliest + 10,
	}))

	// the prepend is written by the fetch goroutine and may overtake the decision
	got := map[string]frame{}
	for len(got) < 2 {
		f := read(t, conn)
		got[f.Type] = f
	}
	dec, prep := got["decision"], got["prepend"]
	assert.Equal(t, string(usecase.DecisionTriggered), dec.Decision)
	require.Equal(t, "prepend", prep.Type)
	require.Len(t, prep.Bars, 20)
	assert.Equal(t, earliest-20, prep.Bars[0].Time)
	assert.Equal(t, earliest-1, prep.Bars[19].Time)
	assert.Equal(t, 3620, prep.Total)
}

func TestChartSessionSelectResets(t *testing.T) {
	srv := newChartServer(t)
	conn := dial(t, srv, "/ws/chart/demo")

	snap := read(t, conn)
	require.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, "1m", snap.Timeframe)
	assert.Len(t, snap.Bars, 121)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "select", "tf": "5m", "seriesType": "mcap"}))
	snap = readUntil(t, conn, "snapshot")
	assert.Equal(t, "5m", snap.Timeframe)
	assert.Equal(t, "marketCap", snap.SeriesType)
	assert.Len(t, snap.Bars, 25)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "viewport", "barsBefore": 0, "visibleFrom": origin}))
	dec := readUntil(t, conn, "decision")
	assert.Equal(t, string(usecase.DecisionNotBackfillable), dec.Decision)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "select", "tf": "2m"}))
	f := readUntil(t, conn, "error")
	assert.Contains(t, f.Message, "unknown timeframe")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	f = readUntil(t, conn, "error")
	assert.Equal(t, "malformed message", f.Message)
}

func TestChartSessionRejectsBeforeUpgrade(t *testing.T) {
	srv := newChartServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	cases := map[string]int{
		"/ws/chart/missing":      http.StatusNotFound,
		"/ws/chart/demo?tf=2m":   http.StatusBadRequest,
		"/ws/chart/demo?type=xx": http.StatusBadRequest,
	}
	for path, want := range cases {
		_, resp, err := websocket.DefaultDialer.Dial(url+path, nil)
		require.Error(t, err, path)
		require.NotNil(t, resp, path)
		assert.Equal(t, want, resp.StatusCode, path)
		resp.Body.Close()
	}
}
