package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	applogger "ChartFeed/pkg/logger"
)

// SeriesStore holds the current immutable snapshot of every dataset.
type SeriesStore struct {
	mu          sync.RWMutex
	series      map[string]*models.Series
	invalidator domrepo.Invalidator
	l           *applogger.Logger
}

func NewSeriesStore(inv domrepo.Invalidator) *SeriesStore {
	return &SeriesStore{
		series:      make(map[string]*models.Series),
		invalidator: inv,
		l:           applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (s *SeriesStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *SeriesStore) Get(id string) (*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domrepo.ErrSeriesNotFound, id)
	}
	return ser, nil
}

// Replace swaps the snapshot for id and then drops cached results derived from
// the previous one. Readers holding the old snapshot keep a consistent view.
func (s *SeriesStore) Replace(ctx context.Context, id string, ser *models.Series) error {
	s.mu.Lock()
	_, existed := s.series[id]
	s.series[id] = ser
	s.mu.Unlock()

	s.l.Info("series.replace ok",
		applogger.String("series", id),
		applogger.Int("bars", ser.Len()),
		applogger.Int64("start", ser.Metadata.StartTime),
		applogger.Int64("end", ser.Metadata.EndTime),
		applogger.Bool("existed", existed),
	)

	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.InvalidateSeries(ctx, id); err != nil {
		return fmt.Errorf("replace %s: %w", id, err)
	}
	return nil
}

// IDs lists loaded datasets in lexical order.
func (s *SeriesStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
