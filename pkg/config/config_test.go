package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 720*time.Hour, c.Engine.MaxSpan)
	assert.Equal(t, 150*time.Millisecond, c.Backfill.Throttle)
	assert.Equal(t, []string{"*"}, c.Server.AllowOrigins)
	require.Len(t, c.Datasets, 1)
	assert.Equal(t, "demo", c.Datasets[0].ID)
	assert.Equal(t, "synthetic", c.Datasets[0].Source)
	assert.Equal(t, int64(2592000), c.Datasets[0].SpanSeconds)
	assert.False(t, c.Kafka.Enabled)
}

func TestLoadFileAndDatasetDefaults(t *testing.T) {
	p := writeConfig(t, `
environment: test
server:
  port: 9999
datasets:
  - id: pump
    source: file
    path: data/pump.json
  - id: sol
    source: sqlite
    symbol: SOL
    reload_cron: "@every 1m"
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9999, c.Server.Port)
	require.Len(t, c.Datasets, 2)
	assert.Equal(t, "bars", c.Datasets[1].Table)
	assert.Equal(t, "1000000", c.Datasets[1].Supply)
	assert.Equal(t, "@every 1m", c.Datasets[1].ReloadCron)
	assert.True(t, c.NeedsSQLite())
	assert.False(t, c.NeedsClickHouse())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHARTFEED_PORT", "7000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.True(t, c.QueryCache.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.QueryCache.Redis.Addr)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)

	t.Setenv("CHARTFEED_PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"file without path": `
datasets:
  - id: a
    source: file
`,
		"sql without symbol": `
datasets:
  - id: a
    source: clickhouse
`,
		"duplicate ids": `
datasets:
  - id: a
  - id: a
`,
		"unknown source": `
datasets:
  - id: a
    source: parquet
`,
		"bad level": `
logging:
  level: loud
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.True(t, c.Metrics.Enabled)
	assert.Len(t, c.Datasets, 2)
}
