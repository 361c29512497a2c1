package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ChartFeed/internal/domain/models"
	applogger "ChartFeed/pkg/logger"
)

// Dialect captures the SQL differences between the supported bar stores.
type Dialect struct {
	Name       string
	createStmt string
	insertVerb string
	timeSelect string
	timeArg    func(int64) interface{}
}

var ClickHouseDialect = Dialect{
	Name: "clickhouse",
	createStmt: `CREATE TABLE IF NOT EXISTS %s (
		symbol LowCardinality(String),
		ts     DateTime('UTC'),
		open   Float64,
		high   Float64,
		low    Float64,
		close  Float64,
		volume Int64
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, ts)`,
	insertVerb: "INSERT INTO",
	timeSelect: "toUnixTimestamp(ts)",
	timeArg:    func(t int64) interface{} { return time.Unix(t, 0).UTC() },
}

var SQLiteDialect = Dialect{
	Name: "sqlite",
	createStmt: `CREATE TABLE IF NOT EXISTS %s (
		symbol TEXT    NOT NULL,
		ts     INTEGER NOT NULL,
		open   REAL    NOT NULL,
		high   REAL    NOT NULL,
		low    REAL    NOT NULL,
		close  REAL    NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (symbol, ts)
	)`,
	insertVerb: "INSERT OR REPLACE INTO",
	timeSelect: "ts",
	timeArg:    func(t int64) interface{} { return t },
}

// SQLBarStore reads and writes per-second bars in a symbol-keyed table.
type SQLBarStore struct {
	db    *sql.DB
	d     Dialect
	table string
	l     *applogger.Logger
}

func NewSQLBarStore(db *sql.DB, d Dialect, table string) *SQLBarStore {
	return &SQLBarStore{db: db, d: d, table: table, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *SQLBarStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// InitSchema creates the bar table when missing (idempotent).
func (s *SQLBarStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.d.createStmt, s.table)); err != nil {
		return fmt.Errorf("init schema %s: %w", s.table, err)
	}
	return nil
}

// LatestBars returns up to span seconds of bars for symbol, ending at the newest stored bar.
func (s *SQLBarStore) LatestBars(ctx context.Context, symbol string, span int64) ([]models.Bar, error) {
	start := time.Now()

	var last sql.NullInt64
	q := fmt.Sprintf("SELECT max(%s) FROM %s WHERE symbol = ?", s.d.timeSelect, s.table)
	if err := s.db.QueryRowContext(ctx, q, symbol).Scan(&last); err != nil {
		return nil, fmt.Errorf("latest bar time: %w", err)
	}
	if !last.Valid {
		return []models.Bar{}, nil
	}
	from := last.Int64 - span + 1

	q = fmt.Sprintf(`
        SELECT %s, open, high, low, close, volume
        FROM %s
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC
    `, s.d.timeSelect, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, s.d.timeArg(from), s.d.timeArg(last.Int64))
	if err != nil {
		s.l.Error("sql latest_bars query error",
			applogger.String("dialect", s.d.Name),
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 1024)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	s.l.Info("sql latest_bars ok",
		applogger.String("dialect", s.d.Name),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// StoreBatch inserts bars with multi-row VALUES statements. progress, when set,
// is called with the number of rows written by each chunk.
func (s *SQLBarStore) StoreBatch(ctx context.Context, symbol string, bars []models.Bar, progress func(int)) error {
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := min(start+chunkSize, len(bars))

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, symbol, s.d.timeArg(b.Time), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		q := fmt.Sprintf("%s %s (symbol, ts, open, high, low, close, volume) VALUES %s",
			s.d.insertVerb, s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars %d-%d: %w", start, end, err)
		}
		if progress != nil {
			progress(end - start)
		}
	}
	return nil
}

// SQLLoader adapts SQLBarStore to SeriesLoader. Market cap bars are the price
// bars scaled by supply.
type SQLLoader struct {
	store  *SQLBarStore
	symbol string
	supply decimal.Decimal
	span   int64
}

func NewSQLLoader(store *SQLBarStore, symbol string, supply decimal.Decimal, span int64) *SQLLoader {
	return &SQLLoader{store: store, symbol: symbol, supply: supply, span: span}
}

func (l *SQLLoader) Source() string { return l.store.d.Name }

func (l *SQLLoader) Load(ctx context.Context) (*models.Series, error) {
	price, err := l.store.LatestBars(ctx, l.symbol, l.span)
	if err != nil {
		return nil, fmt.Errorf("load %s from %s: %w", l.symbol, l.store.d.Name, err)
	}
	ser, _ := models.NewSeries(price, ScaleBars(price, l.supply))
	return ser, nil
}

// ScaleBars multiplies every price of bars by factor. Volume is unchanged.
func ScaleBars(bars []models.Bar, factor decimal.Decimal) []models.Bar {
	scale := func(v float64) float64 {
		f, _ := decimal.NewFromFloat(v).Mul(factor).Float64()
		return f
	}
	out := make([]models.Bar, len(bars))
	for i, b := range bars {
		out[i] = models.Bar{
			Time:   b.Time,
			Open:   scale(b.Open),
			High:   scale(b.High),
			Low:    scale(b.Low),
			Close:  scale(b.Close),
			Volume: b.Volume,
		}
	}
	return out
}
