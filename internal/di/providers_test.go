package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/repository"
	"ChartFeed/pkg/config"
	applogger "ChartFeed/pkg/logger"
	pkgsqlite "ChartFeed/pkg/sqlite"
)

func TestNewLoaderPerSource(t *testing.T) {
	ctx := context.Background()
	l := applogger.Nop()

	synth, err := NewLoader(config.Dataset{ID: "a", Source: "synthetic", Supply: "1000", Seconds: 90, Seed: 1}, nil, nil, l)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", synth.Source())
	ser, err := synth.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, ser.Len())

	file, err := NewLoader(config.Dataset{ID: "b", Source: "file", Path: filepath.Join(t.TempDir(), "none.json"), Supply: "1", Seconds: 30}, nil, nil, l)
	require.NoError(t, err)
	ser, err = file.Load(ctx)
	require.NoError(t, err, "missing files fall back to synthetic bars")
	assert.Equal(t, 30, ser.Len())

	_, err = NewLoader(config.Dataset{ID: "c", Source: "clickhouse", Symbol: "SOL", Supply: "1"}, nil, nil, l)
	assert.ErrorContains(t, err, "clickhouse is not configured")

	_, err = NewLoader(config.Dataset{ID: "d", Source: "synthetic", Supply: "lots"}, nil, nil, l)
	assert.ErrorContains(t, err, "supply")
}

func TestNewLoaderSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := pkgsqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d := config.Dataset{ID: "sol", Source: "sqlite", Symbol: "SOL", Table: "bars", Supply: "2", SpanSeconds: 3600}
	loader, err := NewLoader(d, nil, db, applogger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", loader.Source())

	seed, err := repository.NewSyntheticLoader(repository.SyntheticOptions{Seconds: 60}).Load(ctx)
	require.NoError(t, err)
	store := repository.NewSQLBarStore(db.DB(), repository.SQLiteDialect, "bars")
	require.NoError(t, store.StoreBatch(ctx, "SOL", seed.Price, nil))

	ser, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 60, ser.Len())
	assert.InDelta(t, seed.Price[0].Close*2, ser.MarketCap[0].Close, 1e-9)
}

func TestInitializeAppDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Output = "stderr"
	cfg.Server.Port = 0

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestProvideCacheStoreMemory(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	store, cleanup, err := ProvideCacheStore(cfg, applogger.Nop())
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, store.Set(context.Background(), "k", []int{1}, 0))
	var out []int
	require.NoError(t, store.Get(context.Background(), "k", &out))
	assert.Equal(t, []int{1}, out)
}
