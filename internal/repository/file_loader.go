package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"ChartFeed/internal/domain/models"
	applogger "ChartFeed/pkg/logger"
)

// seriesFile is the on-disk dataset layout.
type seriesFile struct {
	Price     []models.Bar          `json:"price"`
	MarketCap []models.Bar          `json:"marketCap"`
	Metadata  models.SeriesMetadata `json:"metadata"`
}

// FileLoader reads a JSON dataset. A missing file falls back to the configured
// synthetic generator so a fresh checkout still serves charts.
type FileLoader struct {
	path     string
	fallback *SyntheticLoader
	l        *applogger.Logger
}

func NewFileLoader(path string, fallback *SyntheticLoader) *FileLoader {
	return &FileLoader{path: path, fallback: fallback, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (f *FileLoader) SetLogger(l *applogger.Logger) {
	if l != nil {
		f.l = l
	}
}

func (f *FileLoader) Source() string { return "file" }

func (f *FileLoader) Load(ctx context.Context) (*models.Series, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && f.fallback != nil {
			f.l.Warn("series.file missing, using synthetic data", applogger.String("path", f.path))
			return f.fallback.Load(ctx)
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var sf seriesFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}

	ser, dropped := models.NewSeries(sf.Price, sf.MarketCap)
	if dropped > 0 {
		f.l.Warn("series.file dropped bars",
			applogger.String("path", f.path),
			applogger.Int("dropped", dropped),
		)
	}
	f.l.Info("series.file loaded",
		applogger.String("path", f.path),
		applogger.Int("bars", ser.Len()),
	)
	return ser, nil
}

// WriteSeriesFile stores ser in the layout FileLoader reads.
func WriteSeriesFile(path string, ser *models.Series) error {
	raw, err := json.Marshal(seriesFile{Price: ser.Price, MarketCap: ser.MarketCap, Metadata: ser.Metadata})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
