package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ChartFeed/pkg/util"
)

type Config struct {
	Environment string         `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      ServerConfig   `yaml:"server"`
	Logging     LoggingConfig  `yaml:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Engine      EngineConfig   `yaml:"engine"`
	QueryCache  CacheConfig    `yaml:"query_cache"`
	Backfill    BackfillConfig `yaml:"backfill"`
	RateLimit   RateLimit      `yaml:"rate_limit"`
	Datasets    []Dataset      `yaml:"datasets" validate:"min=1,dive"`
	ClickHouse  ClickHouse     `yaml:"clickhouse"`
	SQLite      SQLite         `yaml:"sqlite"`
	Kafka       Kafka          `yaml:"kafka"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	AllowOrigins    []string      `yaml:"allow_origins" default:"[\"*\"]"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

// EngineConfig bounds query work.
type EngineConfig struct {
	MaxSpan          time.Duration `yaml:"max_span" default:"720h" validate:"gt=0"`
	DefaultLimit     int           `yaml:"default_limit" default:"100" validate:"gt=0"`
	MaxLimit         int           `yaml:"max_limit" default:"50000" validate:"gtefield=DefaultLimit"`
	DefaultTimeframe string        `yaml:"default_timeframe" default:"1m"`
}

type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" default:"4096" validate:"gt=0"`
	TTL        time.Duration `yaml:"ttl"`
	Redis      Redis         `yaml:"redis"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"chartfeed"`
}

type BackfillConfig struct {
	ThresholdBars int           `yaml:"threshold_bars" default:"30" validate:"gte=0"`
	Throttle      time.Duration `yaml:"throttle" default:"150ms"`
	MinFetchBars  int           `yaml:"min_fetch_bars" default:"30" validate:"gt=0"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" default:"10s"`
}

type RateLimit struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps" default:"50" validate:"gt=0"`
	Burst   int     `yaml:"burst" default:"100" validate:"gt=0"`
}

// Dataset declares one servable series and where its bars come from.
type Dataset struct {
	ID     string `yaml:"id" validate:"required"`
	Source string `yaml:"source" default:"synthetic" validate:"oneof=file synthetic clickhouse sqlite"`
	Path   string `yaml:"path" validate:"required_if=Source file"`
	Symbol string `yaml:"symbol"`
	Table  string `yaml:"table" default:"bars"`
	// Supply is a decimal string; market cap bars are derived as price x supply.
	Supply      string `yaml:"supply" default:"1000000"`
	SpanSeconds int64  `yaml:"span_seconds" default:"2592000" validate:"gt=0"`
	Seconds     int    `yaml:"seconds"`
	Seed        int64  `yaml:"seed"`
	Now         int64  `yaml:"now"`
	ReloadCron  string `yaml:"reload_cron"`
}

type ClickHouse struct {
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"9000"`
	Database    string        `yaml:"database" default:"default"`
	User        string        `yaml:"user" default:"default"`
	Password    string        `yaml:"password"`
	UseHTTP     bool          `yaml:"use_http"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type SQLite struct {
	Path string `yaml:"path" default:"data/chartfeed.db"`
}

type Kafka struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic        string        `yaml:"topic" default:"chartfeed.dataset.reload"`
	GroupPrefix  string        `yaml:"group_prefix" default:"chartfeed"`
	Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	RequiredAcks int           `yaml:"required_acks" default:"-1"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	Workers      int           `yaml:"workers" default:"1"`
	BufferSize   int           `yaml:"buffer_size" default:"16"`
	RetryMax     int           `yaml:"retry_max" default:"3"`
	BackoffMin   time.Duration `yaml:"backoff_min" default:"50ms"`
	BackoffMax   time.Duration `yaml:"backoff_max" default:"2s"`
}

// Load reads .env (if present), the YAML file at path (if present), applies
// defaults and environment overrides, then validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if len(c.Datasets) == 0 {
		c.Datasets = []Dataset{{ID: "demo", Source: "synthetic"}}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	for i := range c.Datasets {
		if err := defaults.Set(&c.Datasets[i]); err != nil {
			return nil, fmt.Errorf("apply dataset defaults: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CHARTFEED_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("CHARTFEED_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHARTFEED_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.QueryCache.Redis.Addr = v
		c.QueryCache.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.QueryCache.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Datasets))
	for _, d := range c.Datasets {
		if seen[d.ID] {
			return fmt.Errorf("datasets: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
		if (d.Source == "clickhouse" || d.Source == "sqlite") && d.Symbol == "" {
			return fmt.Errorf("datasets[%s]: symbol is required for source %s", d.ID, d.Source)
		}
	}
	return nil
}

// NeedsClickHouse reports whether any dataset reads from ClickHouse.
func (c *Config) NeedsClickHouse() bool { return c.uses("clickhouse") }

// NeedsSQLite reports whether any dataset reads from SQLite.
func (c *Config) NeedsSQLite() bool { return c.uses("sqlite") }

func (c *Config) uses(source string) bool {
	for _, d := range c.Datasets {
		if d.Source == source {
			return true
		}
	}
	return false
}
