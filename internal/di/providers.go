package di

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/handler/api"
	"ChartFeed/internal/handler/ws"
	"ChartFeed/internal/repository"
	"ChartFeed/internal/service/querycache"
	"ChartFeed/internal/usecase"
	"ChartFeed/pkg/cache"
	pkgch "ChartFeed/pkg/clickhouse"
	"ChartFeed/pkg/config"
	xhttp "ChartFeed/pkg/http"
	"ChartFeed/pkg/http/middleware"
	pkgkafka "ChartFeed/pkg/kafka"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
	"ChartFeed/pkg/server"
	pkgsqlite "ChartFeed/pkg/sqlite"
)

// InstanceID identifies this replica in reload notices.
type InstanceID string

func ProvideInstanceID() InstanceID {
	return InstanceID(uuid.NewString())
}

// ProvideLogger builds the application logger from the logging section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics registers the engine collectors on the default registry, which
// also carries the Kafka client collectors.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideCacheStore returns the in-process LRU, fronting Redis when enabled.
func ProvideCacheStore(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	mem := cache.NewMemoryCache(cache.WithMemoryMaxEntries(cfg.QueryCache.MaxEntries))
	rc := cfg.QueryCache.Redis
	if !rc.Enabled {
		return mem, func() { _ = mem.Close() }, nil
	}

	redisCache, err := cache.NewRedisCache(
		cache.WithRedisAddr(rc.Addr),
		cache.WithRedisPassword(rc.Password),
		cache.WithRedisDB(rc.DB),
		cache.WithRedisPool(rc.PoolSize, 2, 4*time.Second),
		cache.WithRedisPrefix(rc.Prefix),
	)
	if err != nil {
		_ = mem.Close()
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	l.Info("query_cache.redis connected", applogger.String("addr", rc.Addr))
	layered := cache.NewLayeredCache(mem, redisCache)
	return layered, func() { _ = layered.Close() }, nil
}

func ProvideQueryCache(cfg *config.Config, store cache.Service, m domrepo.Metrics, l *applogger.Logger) *querycache.Cache {
	return querycache.New(store,
		querycache.WithTTL(cfg.QueryCache.TTL),
		querycache.WithMetrics(m),
		querycache.WithLogger(l),
	)
}

func ProvideSeriesStore(qc *querycache.Cache, l *applogger.Logger) *repository.SeriesStore {
	s := repository.NewSeriesStore(qc)
	s.SetLogger(l)
	return s
}

// ProvideClickHouseClient connects only when a dataset reads from ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.NeedsClickHouse() {
		return nil, func() {}, nil
	}
	c, err := OpenClickHouse(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

func OpenClickHouse(cfg *config.Config) (*pkgch.Client, error) {
	ch := cfg.ClickHouse
	c, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return c, nil
}

// ProvideSQLiteClient opens the database only when a dataset reads from SQLite.
func ProvideSQLiteClient(cfg *config.Config) (*pkgsqlite.Client, func(), error) {
	if !cfg.NeedsSQLite() {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := pkgsqlite.Open(ctx, cfg.SQLite.Path)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

// ProvideDatasetSources builds one loader per configured dataset.
func ProvideDatasetSources(cfg *config.Config, ch *pkgch.Client, sq *pkgsqlite.Client, l *applogger.Logger) ([]usecase.DatasetSource, error) {
	out := make([]usecase.DatasetSource, 0, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		loader, err := NewLoader(d, ch, sq, l)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", d.ID, err)
		}
		out = append(out, usecase.DatasetSource{ID: d.ID, Loader: loader, ReloadCron: d.ReloadCron})
	}
	return out, nil
}

// NewLoader picks the loader for one dataset entry. SQL sources get their schema
// created on first use.
func NewLoader(d config.Dataset, ch *pkgch.Client, sq *pkgsqlite.Client, l *applogger.Logger) (domrepo.SeriesLoader, error) {
	supply, err := decimal.NewFromString(d.Supply)
	if err != nil {
		return nil, fmt.Errorf("supply %q: %w", d.Supply, err)
	}
	synth := repository.NewSyntheticLoader(repository.SyntheticOptions{
		Seconds: d.Seconds,
		Now:     d.Now,
		Seed:    d.Seed,
		Supply:  supply,
	})

	switch d.Source {
	case "synthetic":
		return synth, nil
	case "file":
		f := repository.NewFileLoader(d.Path, synth)
		f.SetLogger(l)
		return f, nil
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("clickhouse is not configured")
		}
		return newSQLLoader(ch.DB(), repository.ClickHouseDialect, d, supply, l)
	case "sqlite":
		if sq == nil {
			return nil, fmt.Errorf("sqlite is not configured")
		}
		return newSQLLoader(sq.DB(), repository.SQLiteDialect, d, supply, l)
	default:
		return nil, fmt.Errorf("unknown source %q", d.Source)
	}
}

func newSQLLoader(db *sql.DB, dialect repository.Dialect, d config.Dataset, supply decimal.Decimal, l *applogger.Logger) (domrepo.SeriesLoader, error) {
	store := repository.NewSQLBarStore(db, dialect, d.Table)
	store.SetLogger(l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return repository.NewSQLLoader(store, d.Symbol, supply, d.SpanSeconds), nil
}

// ProvideReloadPublisher announces reloads on Kafka when enabled. Closing the
// publisher closes its producer.
func ProvideReloadPublisher(cfg *config.Config, id InstanceID) (domrepo.InvalidationPublisher, error) {
	if !cfg.Kafka.Enabled {
		return repository.NopReloadPublisher{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		// notices are sent one at a time
		pkgkafka.WithBatchTimeout(10*time.Millisecond),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return repository.NewKafkaReloadPublisher(producer, cfg.Kafka.Topic, string(id)), nil
}

// ProvideKafkaConsumer returns nil when Kafka is disabled. Each replica joins its
// own group so every replica sees every notice.
func ProvideKafkaConsumer(cfg *config.Config, id InstanceID, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(fmt.Sprintf("%s-%s", cfg.Kafka.GroupPrefix, id)),
		pkgkafka.WithConsumerStartOffset("last"),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.RetryMax, cfg.Kafka.BackoffMin, cfg.Kafka.BackoffMax),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	c.SetLogger(l)
	return c, nil
}

func ProvideDatasetService(store *repository.SeriesStore, sources []usecase.DatasetSource, pub domrepo.InvalidationPublisher, m domrepo.Metrics, l *applogger.Logger) *usecase.DatasetService {
	svc := usecase.NewDatasetService(store, sources, pub)
	svc.SetLogger(l)
	svc.SetMetrics(m)
	return svc
}

func ProvideReloadHandler(cfg *config.Config, datasets *usecase.DatasetService, id InstanceID, m domrepo.Metrics, l *applogger.Logger) *usecase.ReloadHandler {
	h := usecase.NewReloadHandler(cfg.Kafka.Topic, string(id), datasets)
	h.SetLogger(l)
	h.SetMetrics(m)
	return h
}

func ProvideCandlesUseCase(cfg *config.Config, store *repository.SeriesStore, qc *querycache.Cache, m domrepo.Metrics, l *applogger.Logger) *usecase.CandlesUseCase {
	uc := usecase.NewCandlesUseCase(store, qc, usecase.CandlesConfig{
		MaxSpan:      int64(cfg.Engine.MaxSpan / time.Second),
		DefaultLimit: cfg.Engine.DefaultLimit,
		MaxLimit:     cfg.Engine.MaxLimit,
	})
	uc.SetLogger(l)
	uc.SetMetrics(m)
	return uc
}

// ProvideBackfillConfig maps the backfill section onto session settings.
func ProvideBackfillConfig(cfg *config.Config) usecase.BackfillConfig {
	return usecase.BackfillConfig{
		ThresholdBars: cfg.Backfill.ThresholdBars,
		Throttle:      cfg.Backfill.Throttle,
		MinFetchBars:  cfg.Backfill.MinFetchBars,
		FetchTimeout:  cfg.Backfill.FetchTimeout,
		MaxSpan:       int64(cfg.Engine.MaxSpan / time.Second),
	}
}

func ProvideHandlers(
	cfg *config.Config,
	l *applogger.Logger,
	m domrepo.Metrics,
	candles *usecase.CandlesUseCase,
	datasets *usecase.DatasetService,
	store *repository.SeriesStore,
	bf usecase.BackfillConfig,
) []xhttp.Handler {
	defTF, err := domrepo.ParseTimeframe(cfg.Engine.DefaultTimeframe, domrepo.DefaultTimeframe())
	if err != nil {
		l.Warn("engine.default_timeframe invalid, using 1m", applogger.String("tf", cfg.Engine.DefaultTimeframe))
		defTF = domrepo.DefaultTimeframe()
	}
	chart := ws.NewChartHandler(l, store, candles, defTF, bf)
	chart.SetMetrics(m)
	return []xhttp.Handler{
		api.NewCandlesHandler(l, candles, defTF),
		api.NewSeriesHandler(l, datasets),
		chart,
	}
}

// ProvideRateLimiter returns nil when rate limiting is off.
func ProvideRateLimiter(cfg *config.Config) *middleware.RateLimiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, rl *middleware.RateLimiter, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.AllowOrigins),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	}
	if rl != nil {
		opts = append(opts, xhttp.WithRateLimit(rl))
	}
	return xhttp.NewServer(handlers, opts...)
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	datasets *usecase.DatasetService,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	reloads *usecase.ReloadHandler,
	pub domrepo.InvalidationPublisher,
	rl *middleware.RateLimiter,
) *server.App {
	return server.New(cfg, l, datasets, srv,
		server.WithReloadConsumer(consumer, reloads),
		server.WithPublisher(pub),
		server.WithRateLimiter(rl),
	)
}
