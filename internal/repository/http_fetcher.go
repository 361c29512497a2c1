package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	xhttp "ChartFeed/pkg/http"
)

// HTTPBarsFetcher queries a remote ChartFeed API. Backfill sessions outside the
// server process (the CLI) use it in place of the in-process use case.
type HTTPBarsFetcher struct {
	baseURL string
	client  *xhttp.Client
}

func NewHTTPBarsFetcher(baseURL string, client *xhttp.Client) *HTTPBarsFetcher {
	if client == nil {
		client = xhttp.NewClient()
	}
	return &HTTPBarsFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type candlesEnvelope struct {
	Data struct {
		Bars []models.Bar `json:"bars"`
	} `json:"data"`
}

type errorEnvelope struct {
	Data []xhttp.AppError `json:"data"`
}

func (f *HTTPBarsFetcher) FetchBars(ctx context.Context, q domrepo.BarsQuery) ([]models.Bar, error) {
	v := url.Values{}
	v.Set("tf", string(q.Timeframe))
	v.Set("shape", string(models.ShapeOHLCV))
	if q.SeriesType != "" {
		v.Set("type", string(q.SeriesType))
	}
	if q.Start != nil {
		v.Set("start", strconv.FormatInt(*q.Start, 10))
	}
	if q.End != nil {
		v.Set("end", strconv.FormatInt(*q.End, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	var out candlesEnvelope
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		URL:   f.baseURL + "/api/candles/" + url.PathEscape(q.SeriesID),
		Query: v,
	}, &out)
	if err != nil {
		return nil, mapRemoteError(err)
	}
	if out.Data.Bars == nil {
		return []models.Bar{}, nil
	}
	return out.Data.Bars, nil
}

// mapRemoteError turns an API error body back into the domain sentinel it came from.
func mapRemoteError(err error) error {
	var se *xhttp.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", domrepo.ErrTransport, err)
	}
	var env errorEnvelope
	if jerr := json.Unmarshal(se.Body, &env); jerr != nil || len(env.Data) == 0 {
		return fmt.Errorf("%w: %w", domrepo.ErrTransport, err)
	}
	ae := env.Data[0]
	switch ae.Code {
	case "ERR_RANGE_TOO_LARGE":
		return fmt.Errorf("%w: %s", domrepo.ErrRangeTooLarge, ae.Message)
	case "ERR_NOT_FOUND":
		return fmt.Errorf("%w: %s", domrepo.ErrSeriesNotFound, ae.Message)
	case "ERR_INVALID_PARAMETERS":
		if ae.Field == "tf" {
			return fmt.Errorf("%w: %s", domrepo.ErrUnknownTimeframe, ae.Message)
		}
		return fmt.Errorf("%w: %s", domrepo.ErrInvalidParameters, ae.Message)
	default:
		return fmt.Errorf("%w: %w", domrepo.ErrTransport, err)
	}
}

// SeriesBounds returns the first and last bar time of a remote dataset.
func (f *HTTPBarsFetcher) SeriesBounds(ctx context.Context, seriesID string) (start, end int64, err error) {
	var out struct {
		Data models.SeriesMetadata `json:"data"`
	}
	err = f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		URL: f.baseURL + "/api/series/" + url.PathEscape(seriesID),
	}, &out)
	if err != nil {
		return 0, 0, mapRemoteError(err)
	}
	return out.Data.StartTime, out.Data.EndTime, nil
}
