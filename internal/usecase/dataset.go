package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
)

// SeriesWriter is the write side of the dataset store.
type SeriesWriter interface {
	domrepo.SeriesReader
	Replace(ctx context.Context, id string, ser *models.Series) error
}

// DatasetSource binds a dataset id to its loader. ReloadCron is optional and
// uses the standard five field syntax (or descriptors such as @every 5m).
type DatasetSource struct {
	ID         string
	Loader     domrepo.SeriesLoader
	ReloadCron string
}

// SeriesInfo describes a loaded dataset.
type SeriesInfo struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Bars      int    `json:"bars"`
	LoadedAt  int64  `json:"loadedAt"`
}

// DatasetService loads datasets at startup and swaps them on reload.
type DatasetService struct {
	store     SeriesWriter
	sources   map[string]DatasetSource
	publisher domrepo.InvalidationPublisher
	metrics   domrepo.Metrics
	l         *applogger.Logger

	mu       sync.Mutex
	loadedAt map[string]time.Time
	reloadMu map[string]*sync.Mutex

	cron *cron.Cron
}

func NewDatasetService(store SeriesWriter, sources []DatasetSource, publisher domrepo.InvalidationPublisher) *DatasetService {
	m := make(map[string]DatasetSource, len(sources))
	locks := make(map[string]*sync.Mutex, len(sources))
	for _, s := range sources {
		m[s.ID] = s
		locks[s.ID] = &sync.Mutex{}
	}
	return &DatasetService{
		store:     store,
		sources:   m,
		publisher: publisher,
		metrics:   metrics.Nop{},
		l:         applogger.Nop(),
		loadedAt:  make(map[string]time.Time),
		reloadMu:  locks,
	}
}

// SetLogger injects a structured logger.
func (s *DatasetService) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// SetMetrics injects a metrics recorder.
func (s *DatasetService) SetMetrics(m domrepo.Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// LoadAll loads every configured dataset. All failures are reported together.
func (s *DatasetService) LoadAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.ids() {
		if _, err := s.load(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload re-reads one dataset, swaps it in, drops its cached results and tells
// other replicas to do the same.
func (s *DatasetService) Reload(ctx context.Context, id string) (*SeriesInfo, error) {
	info, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReload(ctx, id); err != nil {
			// local state is already consistent; peers catch up on their next reload
			s.metrics.RecordError("reload_publish")
			s.l.Warn("dataset.reload publish_failed", applogger.String("series", id), applogger.Error(err))
		}
	}
	return info, nil
}

// ApplyRemoteReload handles a reload announced by another replica. It never
// republishes.
func (s *DatasetService) ApplyRemoteReload(ctx context.Context, id string) error {
	if _, ok := s.sources[id]; !ok {
		s.l.Debug("dataset.remote_reload unknown series", applogger.String("series", id))
		return nil
	}
	_, err := s.load(ctx, id)
	return err
}

// Meta returns the time domain of a loaded dataset.
func (s *DatasetService) Meta(id string) (*SeriesInfo, error) {
	ser, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return s.info(id, ser), nil
}

// List describes every loaded dataset in id order.
func (s *DatasetService) List() []SeriesInfo {
	out := make([]SeriesInfo, 0, len(s.sources))
	for _, id := range s.ids() {
		if ser, err := s.store.Get(id); err == nil {
			out = append(out, *s.info(id, ser))
		}
	}
	return out
}

// StartSchedule registers a cron job for every dataset with a ReloadCron.
func (s *DatasetService) StartSchedule(ctx context.Context) error {
	c := cron.New()
	jobs := 0
	for _, id := range s.ids() {
		spec := s.sources[id].ReloadCron
		if spec == "" {
			continue
		}
		if _, err := c.AddFunc(spec, func() {
			if _, err := s.Reload(ctx, id); err != nil {
				s.l.Error("dataset.scheduled_reload failed", applogger.String("series", id), applogger.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule reload %s: %w", id, err)
		}
		jobs++
	}
	if jobs == 0 {
		return nil
	}
	s.cron = c
	c.Start()
	s.l.Info("dataset.schedule started", applogger.Int("jobs", jobs))
	return nil
}

// StopSchedule stops the cron scheduler and waits for running reloads.
func (s *DatasetService) StopSchedule() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *DatasetService) load(ctx context.Context, id string) (*SeriesInfo, error) {
	src, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domrepo.ErrSeriesNotFound, id)
	}

	// concurrent reloads of one dataset would race on Replace order
	lock := s.reloadMu[id]
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	ser, err := src.Loader.Load(ctx)
	if err != nil {
		s.metrics.RecordError("dataset_load")
		s.l.Error("dataset.load failed",
			applogger.String("series", id),
			applogger.String("source", src.Loader.Source()),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if err := s.store.Replace(ctx, id, ser); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loadedAt[id] = time.Now()
	s.mu.Unlock()

	s.metrics.RecordSeriesLoad(id, src.Loader.Source(), ser.Len())
	s.l.Info("dataset.load ok",
		applogger.String("series", id),
		applogger.String("source", src.Loader.Source()),
		applogger.Int("bars", ser.Len()),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return s.info(id, ser), nil
}

func (s *DatasetService) info(id string, ser *models.Series) *SeriesInfo {
	s.mu.Lock()
	at := s.loadedAt[id]
	s.mu.Unlock()

	info := &SeriesInfo{
		ID:        id,
		StartTime: ser.Metadata.StartTime,
		EndTime:   ser.Metadata.EndTime,
		Bars:      ser.Len(),
	}
	if src, ok := s.sources[id]; ok {
		info.Source = src.Loader.Source()
	}
	if !at.IsZero() {
		info.LoadedAt = at.Unix()
	}
	return info
}

func (s *DatasetService) ids() []string {
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
