package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/shopspring/decimal"

	"ChartFeed/internal/repository"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/util"
)

func runGen(args []string, l *applogger.Logger) error {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	out := fs.String("out", "data/demo.json", "output file")
	seconds := fs.Int("seconds", 86400, "number of one-second bars")
	seed := fs.Int64("seed", 1, "random seed")
	now := fs.Int64("now", repository.DefaultSyntheticNow, "time of the last bar (unix seconds)")
	price := fs.Float64("price", repository.DefaultStartPrice, "starting price")
	supply := fs.String("supply", "1000000", "token supply used for market cap")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sup, err := decimal.NewFromString(*supply)
	if err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	ser, err := repository.NewSyntheticLoader(repository.SyntheticOptions{
		Seconds:    *seconds,
		Now:        *now,
		Seed:       *seed,
		StartPrice: *price,
		Supply:     sup,
	}).Load(context.Background())
	if err != nil {
		return err
	}
	if err := repository.WriteSeriesFile(*out, ser); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	l.Info("chartctl.gen wrote dataset",
		applogger.String("path", *out),
		applogger.Int("bars", ser.Len()),
		applogger.String("start", util.FormatUnix(ser.Metadata.StartTime)),
		applogger.String("end", util.FormatUnix(ser.Metadata.EndTime)),
	)
	return nil
}
