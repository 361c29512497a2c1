package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/services/resample"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
)

// BackfillConfig tunes when and how far a session loads older bars.
type BackfillConfig struct {
	ThresholdBars int           // trigger when fewer bars than this sit left of the viewport
	Throttle      time.Duration // minimum spacing between accepted evaluations
	MinFetchBars  int           // smallest window requested, in bars
	FetchTimeout  time.Duration
	MaxSpan       int64 // widest window requested, in seconds
}

func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		ThresholdBars: 30,
		Throttle:      150 * time.Millisecond,
		MinFetchBars:  30,
		FetchTimeout:  10 * time.Second,
		MaxSpan:       30 * 24 * 60 * 60,
	}
}

// Viewport is what the consumer reports after a scroll or zoom.
type Viewport struct {
	BarsBefore  int   `json:"barsBefore"`
	VisibleFrom int64 `json:"visibleFrom"`
}

// Decision is the outcome of one trigger evaluation.
type Decision string

const (
	DecisionTriggered       Decision = "triggered"
	DecisionNotBackfillable Decision = "not_backfillable"
	DecisionInFlight        Decision = "in_flight"
	DecisionThrottled       Decision = "throttled"
	DecisionEmpty           Decision = "empty"
	DecisionNotNearEdge     Decision = "not_near_edge"
	DecisionAtOrigin        Decision = "at_origin"
	DecisionClosed          Decision = "closed"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseMerging
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseMerging:
		return "merging"
	default:
		return "idle"
	}
}

type BackfillEventKind string

const (
	EventPrepend BackfillEventKind = "prepend"
	EventError   BackfillEventKind = "error"
)

// BackfillEvent is delivered after a fetch resolves under the current generation.
// For EventPrepend, Bars holds only the newly prepended bars.
type BackfillEvent struct {
	Kind  BackfillEventKind
	Bars  []models.Bar
	Total int
	Err   error
}

type BackfillSessionParams struct {
	SeriesID   string
	Timeframe  domrepo.Timeframe
	SeriesType models.SeriesType
	Origin     int64 // earliest time the dataset holds
	DatasetNow int64 // end of the initial window
}

type BackfillOption func(*BackfillSession)

func WithClock(now func() time.Time) BackfillOption {
	return func(s *BackfillSession) { s.now = now }
}

func WithEventHandler(fn func(BackfillEvent)) BackfillOption {
	return func(s *BackfillSession) { s.onEvent = fn }
}

func WithBackfillLogger(l *applogger.Logger) BackfillOption {
	return func(s *BackfillSession) {
		if l != nil {
			s.l = l
		}
	}
}

func WithBackfillMetrics(m domrepo.Metrics) BackfillOption {
	return func(s *BackfillSession) {
		if m != nil {
			s.metrics = m
		}
	}
}

// BackfillSession owns the bars one consumer has loaded and extends them backwards
// as the viewport nears the left edge. At most one fetch is in flight; results
// that resolve after Reset or Close are discarded.
type BackfillSession struct {
	fetcher domrepo.BarsFetcher
	cfg     BackfillConfig
	now     func() time.Time
	onEvent func(BackfillEvent)
	l       *applogger.Logger
	metrics domrepo.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// held while an event is delivered; Reset and Close take it before mu
	deliverMu sync.Mutex

	mu          sync.Mutex
	params      BackfillSessionParams
	loaded      []models.Bar
	inFlight    bool
	cancelFetch context.CancelFunc
	phase       Phase
	lastEval    time.Time
	generation  uint64
	// no bars exist in [emptyFrom, loaded[0].Time); zero when unknown
	emptyFrom int64
	lastErr   error
	closed    bool
}

func NewBackfillSession(fetcher domrepo.BarsFetcher, cfg BackfillConfig, p BackfillSessionParams, opts ...BackfillOption) *BackfillSession {
	def := DefaultBackfillConfig()
	if cfg.ThresholdBars <= 0 {
		cfg.ThresholdBars = def.ThresholdBars
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	if cfg.MinFetchBars <= 0 {
		cfg.MinFetchBars = def.MinFetchBars
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxSpan <= 0 {
		cfg.MaxSpan = def.MaxSpan
	}
	if p.SeriesType == "" {
		p.SeriesType = models.SeriesPrice
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BackfillSession{
		fetcher: fetcher,
		cfg:     cfg,
		now:     time.Now,
		onEvent: func(BackfillEvent) {},
		l:       applogger.Nop(),
		metrics: metrics.Nop{},
		ctx:     ctx,
		cancel:  cancel,
		params:  p,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the initial window for the current timeframe, ending at dataset now,
// and replaces whatever was loaded. A pending backfill fetch is cancelled and its
// result discarded.
func (s *BackfillSession) Load(ctx context.Context) ([]models.Bar, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("backfill session closed")
	}
	s.supersede()
	gen := s.generation
	p := s.params
	s.inFlight = true
	s.phase = PhaseFetching
	s.mu.Unlock()

	end := p.DatasetNow
	q := domrepo.BarsQuery{
		SeriesID:   p.SeriesID,
		Timeframe:  p.Timeframe,
		SeriesType: p.SeriesType,
		End:        &end,
		Limit:      p.Timeframe.InitialBars(),
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	bars, err := s.fetcher.FetchBars(fctx, q)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, context.Canceled
	}
	s.inFlight = false
	s.phase = PhaseIdle
	if err != nil {
		s.lastErr = fmt.Errorf("%w: %w", domrepo.ErrTransport, err)
		s.metrics.RecordBackfill("initial_failed")
		return nil, s.lastErr
	}
	s.loaded = MergeOlder(nil, bars)
	s.emptyFrom = 0
	s.lastErr = nil
	s.metrics.RecordBackfill("initial_loaded")
	s.l.Debug("backfill.load ok",
		applogger.String("series", p.SeriesID),
		applogger.String("tf", string(p.Timeframe)),
		applogger.Int("bars", len(s.loaded)),
	)
	return cloneBars(s.loaded), nil
}

// Evaluate runs the trigger checks for a viewport report and starts a fetch when
// the viewport sits near the left edge of the loaded bars.
func (s *BackfillSession) Evaluate(vp Viewport) Decision {
	d := s.evaluate(vp)
	s.metrics.RecordBackfill(string(d))
	return d
}

func (s *BackfillSession) evaluate(vp Viewport) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return DecisionClosed
	}
	if !s.params.Timeframe.Backfillable() {
		return DecisionNotBackfillable
	}
	if s.inFlight {
		return DecisionInFlight
	}
	now := s.now()
	if !s.lastEval.IsZero() && now.Sub(s.lastEval) < s.cfg.Throttle {
		return DecisionThrottled
	}
	s.lastEval = now

	if len(s.loaded) == 0 {
		return DecisionEmpty
	}
	if vp.BarsBefore >= s.cfg.ThresholdBars {
		return DecisionNotNearEdge
	}

	start, end, ok := s.window(vp.VisibleFrom)
	if !ok {
		return DecisionAtOrigin
	}

	barSeconds := s.params.Timeframe.Seconds()
	q := domrepo.BarsQuery{
		SeriesID:   s.params.SeriesID,
		Timeframe:  s.params.Timeframe,
		SeriesType: s.params.SeriesType,
		Start:      &start,
		End:        &end,
		Limit:      int((resample.BucketStart(end, barSeconds)-resample.BucketStart(start, barSeconds))/barSeconds) + 1,
	}

	s.inFlight = true
	s.phase = PhaseFetching
	gen := s.generation
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	s.cancelFetch = cancel
	s.wg.Add(1)
	go s.fetch(ctx, cancel, gen, q)

	s.l.Debug("backfill.evaluate triggered",
		applogger.String("series", s.params.SeriesID),
		applogger.Int64("start", start),
		applogger.Int64("end", end),
	)
	return DecisionTriggered
}

// window computes the older range to request. Caller holds mu.
func (s *BackfillSession) window(visibleFrom int64) (start, end int64, ok bool) {
	earliest := s.loaded[0].Time
	gap := visibleFrom - earliest
	if gap < 0 {
		gap = -gap
	}

	// skip a stretch already known to hold no bars
	edge := earliest
	if s.emptyFrom != 0 && s.emptyFrom < edge {
		edge = s.emptyFrom
	}
	end = edge - 1
	start = edge - 2*gap

	// a viewport flush with the left edge yields an empty window
	if start > end {
		start = end - int64(s.cfg.MinFetchBars)*s.params.Timeframe.Seconds() + 1
	}
	if end-start+1 > s.cfg.MaxSpan {
		start = end - s.cfg.MaxSpan + 1
	}
	start = max(start, s.params.Origin)
	return start, end, start <= end
}

func (s *BackfillSession) fetch(ctx context.Context, cancel context.CancelFunc, gen uint64, q domrepo.BarsQuery) {
	defer s.wg.Done()

	bars, err := s.fetcher.FetchBars(ctx, q)
	cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.metrics.RecordBackfill("stale")
		return
	}
	s.cancelFetch = nil

	if err != nil {
		s.inFlight = false
		s.phase = PhaseIdle
		s.lastErr = fmt.Errorf("%w: %w", domrepo.ErrTransport, err)
		ev := BackfillEvent{Kind: EventError, Err: s.lastErr, Total: len(s.loaded)}
		s.mu.Unlock()

		s.metrics.RecordBackfill("failed")
		s.l.Warn("backfill.fetch failed",
			applogger.String("series", q.SeriesID),
			applogger.String("tf", string(q.Timeframe)),
			applogger.Error(err),
		)
		s.deliver(gen, ev)
		return
	}

	s.phase = PhaseMerging
	before := len(s.loaded)
	s.loaded = MergeOlder(s.loaded, bars)
	added := cloneBars(s.loaded[:len(s.loaded)-before])
	if len(added) == 0 {
		s.emptyFrom = *q.Start
	} else {
		s.emptyFrom = 0
	}
	s.inFlight = false
	s.phase = PhaseIdle
	s.lastErr = nil
	ev := BackfillEvent{Kind: EventPrepend, Bars: added, Total: len(s.loaded)}
	s.mu.Unlock()

	s.metrics.RecordBackfill("merged")
	s.l.Debug("backfill.fetch merged",
		applogger.String("series", q.SeriesID),
		applogger.Int("added", len(added)),
		applogger.Int("total", ev.Total),
	)
	s.deliver(gen, ev)
}

// deliver hands ev to the event handler unless a Reset, Load or Close has moved
// the session past gen.
func (s *BackfillSession) deliver(gen uint64, ev BackfillEvent) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	current := gen == s.generation
	s.mu.Unlock()
	if !current {
		s.metrics.RecordBackfill("stale")
		return
	}
	s.onEvent(ev)
}

// supersede invalidates and cancels any outstanding fetch. Caller holds mu.
func (s *BackfillSession) supersede() {
	s.generation++
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
}

// Reset switches timeframe and series type, dropping loaded bars. A pending fetch
// is cancelled and its result is never merged or delivered.
func (s *BackfillSession) Reset(tf domrepo.Timeframe, seriesType models.SeriesType) {
	if seriesType == "" {
		seriesType = models.SeriesPrice
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersede()
	s.params.Timeframe = tf
	s.params.SeriesType = seriesType
	s.loaded = nil
	s.emptyFrom = 0
	s.inFlight = false
	s.phase = PhaseIdle
	s.lastEval = time.Time{}
	s.lastErr = nil
}

// Close discards the session state and waits for outstanding fetches.
func (s *BackfillSession) Close() {
	s.deliverMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return
	}
	s.closed = true
	s.supersede()
	s.loaded = nil
	s.mu.Unlock()
	s.deliverMu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Wait blocks until no fetch goroutine is running.
func (s *BackfillSession) Wait() { s.wg.Wait() }

// Bars returns a copy of the loaded bars.
func (s *BackfillSession) Bars() []models.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBars(s.loaded)
}

func (s *BackfillSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *BackfillSession) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// LastError is the most recent fetch failure, cleared by the next success.
func (s *BackfillSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *BackfillSession) Params() BackfillSessionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// MergeOlder prepends the bars of older that are strictly earlier than loaded[0].
// The result is strictly ascending when both inputs are.
func MergeOlder(loaded, older []models.Bar) []models.Bar {
	out := make([]models.Bar, 0, len(older)+len(loaded))
	for _, b := range older {
		if len(loaded) > 0 && b.Time >= loaded[0].Time {
			continue
		}
		if n := len(out); n > 0 && b.Time <= out[n-1].Time {
			continue
		}
		out = append(out, b)
	}
	return append(out, loaded...)
}

func cloneBars(in []models.Bar) []models.Bar {
	out := make([]models.Bar, len(in))
	copy(out, in)
	return out
}
