package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/repository"
	"ChartFeed/internal/usecase"
	xhttp "ChartFeed/pkg/http"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/util"
)

func runScroll(args []string, l *applogger.Logger) error {
	fs := flag.NewFlagSet("scroll", flag.ContinueOnError)
	baseURL := fs.String("url", "http://localhost:8080", "ChartFeed server")
	series := fs.String("series", "demo", "dataset id")
	tfRaw := fs.String("tf", "1s", "timeframe (backfill runs for 1s and 1m)")
	typ := fs.String("type", "price", "price or marketCap")
	steps := fs.Int("steps", 5, "number of scrolls to the left edge")
	timeout := fs.Duration("timeout", 10*time.Second, "per fetch timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tf, err := domrepo.ParseTimeframe(*tfRaw, domrepo.TF1s)
	if err != nil {
		return err
	}
	st, ok := models.ParseSeriesType(*typ)
	if !ok {
		return fmt.Errorf("%w: %q", domrepo.ErrUnknownSeriesType, *typ)
	}

	ctx := context.Background()
	fetcher := repository.NewHTTPBarsFetcher(*baseURL, xhttp.NewClient(xhttp.WithTimeout(*timeout)))
	origin, now, err := fetcher.SeriesBounds(ctx, *series)
	if err != nil {
		return err
	}

	events := make(chan usecase.BackfillEvent, 1)
	cfg := usecase.DefaultBackfillConfig()
	cfg.FetchTimeout = *timeout
	sess := usecase.NewBackfillSession(fetcher, cfg, usecase.BackfillSessionParams{
		SeriesID:   *series,
		Timeframe:  tf,
		SeriesType: st,
		Origin:     origin,
		DatasetNow: now,
	}, usecase.WithEventHandler(func(ev usecase.BackfillEvent) { events <- ev }))
	defer sess.Close()

	bars, err := sess.Load(ctx)
	if err != nil {
		return err
	}
	l.Info("chartctl.scroll loaded",
		applogger.String("series", *series),
		applogger.String("tf", string(tf)),
		applogger.Int("bars", len(bars)),
	)

	for i := 0; i < *steps && len(bars) > 0; i++ {
		// the viewport sits flush against the left edge
		d := sess.Evaluate(usecase.Viewport{BarsBefore: 0, VisibleFrom: bars[0].Time})
		if d != usecase.DecisionTriggered {
			l.Info("chartctl.scroll stopped", applogger.String("decision", string(d)))
			return nil
		}
		ev := <-events
		if ev.Kind == usecase.EventError {
			return ev.Err
		}
		bars = sess.Bars()
		l.Info("chartctl.scroll prepended",
			applogger.Int("step", i+1),
			applogger.Int("added", len(ev.Bars)),
			applogger.Int("total", ev.Total),
			applogger.String("earliest", util.FormatUnix(bars[0].Time)),
		)
		time.Sleep(cfg.Throttle)
	}
	return nil
}
