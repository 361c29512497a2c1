package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"ChartFeed/internal/di"
	"ChartFeed/internal/repository"
	"ChartFeed/pkg/config"
	applogger "ChartFeed/pkg/logger"
	pkgsqlite "ChartFeed/pkg/sqlite"
)

func runImport(args []string, l *applogger.Logger) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	cfgPath := fs.String("config", "config/config.yaml", "config file with connection settings")
	target := fs.String("target", "sqlite", "sqlite or clickhouse")
	file := fs.String("file", "", "dataset file written by gen or exported from elsewhere")
	symbol := fs.String("symbol", "", "symbol the bars are stored under")
	table := fs.String("table", "bars", "destination table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" || *symbol == "" {
		fs.Usage()
		return fmt.Errorf("-file and -symbol are required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// no fallback: importing synthetic bars by accident is worse than failing
	ser, err := repository.NewFileLoader(*file, nil).Load(ctx)
	if err != nil {
		return err
	}

	var (
		db      *sql.DB
		dialect repository.Dialect
	)
	switch *target {
	case "sqlite":
		c, err := pkgsqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer c.Close()
		db, dialect = c.DB(), repository.SQLiteDialect
	case "clickhouse":
		c, err := di.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		defer c.Close()
		db, dialect = c.DB(), repository.ClickHouseDialect
	default:
		return fmt.Errorf("unknown target %q", *target)
	}

	store := repository.NewSQLBarStore(db, dialect, *table)
	store.SetLogger(l)
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	bar := progressbar.NewOptions(ser.Len(),
		progressbar.OptionSetDescription(fmt.Sprintf("Importing %s into %s.%s", *symbol, dialect.Name, *table)),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	started := time.Now()
	if err := store.StoreBatch(ctx, *symbol, ser.Price, func(n int) { _ = bar.Add(n) }); err != nil {
		return err
	}
	_ = bar.Finish()

	l.Info("chartctl.import done",
		applogger.String("symbol", *symbol),
		applogger.String("target", dialect.Name),
		applogger.Int("bars", ser.Len()),
		applogger.Duration("duration_ms", time.Since(started)),
	)
	return nil
}
