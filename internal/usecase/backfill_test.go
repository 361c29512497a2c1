package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	"ChartFeed/pkg/metrics"
)

const t0 = int64(6_000_000) // minute aligned

func makeBars(from, to, step int64) []models.Bar {
	var out []models.Bar
	for t := from; t <= to; t += step {
		out = append(out, models.Bar{Time: t, Open: 1, High: 1.1, Low: 0.9, Close: 1.05, Volume: 1})
	}
	return out
}

type fakeFetcher struct {
	mu      sync.Mutex
	queries []domrepo.BarsQuery
	gate    chan struct{}
	respond func(q domrepo.BarsQuery) ([]models.Bar, error)
}

func (f *fakeFetcher) FetchBars(ctx context.Context, q domrepo.BarsQuery) ([]models.Bar, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.gate
	respond := f.respond
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return respond(q)
}

func (f *fakeFetcher) setGate(g chan struct{}) {
	f.mu.Lock()
	f.gate = g
	f.mu.Unlock()
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeFetcher) last() domrepo.BarsQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

// rangeFetcher answers every query with 1m bars covering [Start, End] (or the
// initial window ending at End).
func rangeFetcher() *fakeFetcher {
	return &fakeFetcher{respond: func(q domrepo.BarsQuery) ([]models.Bar, error) {
		sec := q.Timeframe.Seconds()
		end := *q.End
		start := end - int64(q.Limit-1)*sec
		if q.Start != nil {
			start = *q.Start
		}
		return makeBars(start-start%sec, end, sec), nil
	}}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newSession(t *testing.T, f *fakeFetcher, clock *fakeClock, tf domrepo.Timeframe, events chan BackfillEvent) *BackfillSession {
	t.Helper()
	s := NewBackfillSession(f, DefaultBackfillConfig(), BackfillSessionParams{
		SeriesID:   "sol",
		Timeframe:  tf,
		SeriesType: models.SeriesPrice,
		Origin:     0,
		DatasetNow: t0 + 3599,
	},
		WithClock(clock.Now),
		WithEventHandler(func(ev BackfillEvent) {
			if events != nil {
				events <- ev
			}
		}),
	)
	t.Cleanup(s.Close)
	return s
}

func loadInitial(t *testing.T, s *BackfillSession, f *fakeFetcher, bars []models.Bar) {
	t.Helper()
	f.mu.Lock()
	prev := f.respond
	f.respond = func(domrepo.BarsQuery) ([]models.Bar, error) { return bars, nil }
	f.mu.Unlock()

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.respond = prev
	f.mu.Unlock()
}

func TestLoadRequestsInitialWindow(t *testing.T) {
	f := rangeFetcher()
	s := newSession(t, f, &fakeClock{now: time.Unix(0, 0)}, domrepo.TF1m, nil)

	bars, err := s.Load(context.Background())
	require.NoError(t, err)

	q := f.last()
	assert.Equal(t, 1440, q.Limit)
	assert.Nil(t, q.Start)
	require.NotNil(t, q.End)
	assert.Equal(t, t0+3599, *q.End)
	assert.Len(t, bars, 1440)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestBackfillTriggerScenario(t *testing.T) {
	f := rangeFetcher()
	clock := &fakeClock{now: time.Unix(100, 0)}
	events := make(chan BackfillEvent, 4)
	s := newSession(t, f, clock, domrepo.TF1m, events)

	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	gate := make(chan struct{})
	f.setGate(gate)

	d := s.Evaluate(Viewport{BarsBefore: 10, VisibleFrom: t0 + 600})
	require.Equal(t, DecisionTriggered, d)
	assert.Equal(t, PhaseFetching, s.Phase())

	q := f.last()
	assert.Equal(t, t0-1200, *q.Start)
	assert.Equal(t, t0-1, *q.End)

	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, DecisionInFlight, s.Evaluate(Viewport{BarsBefore: 5, VisibleFrom: t0}))

	close(gate)
	ev := <-events
	require.Equal(t, EventPrepend, ev.Kind)
	assert.Len(t, ev.Bars, 20)
	assert.Equal(t, 80, ev.Total)

	got := s.Bars()
	require.Len(t, got, 80)
	assert.Equal(t, t0-1200, got[0].Time)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Time, got[i-1].Time)
	}
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.NoError(t, s.LastError())
}

func TestBackfillThrottle(t *testing.T) {
	f := rangeFetcher()
	clock := &fakeClock{now: time.Unix(100, 0)}
	s := newSession(t, f, clock, domrepo.TF1m, nil)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	// accepted but not near the edge
	require.Equal(t, DecisionNotNearEdge, s.Evaluate(Viewport{BarsBefore: 100, VisibleFrom: t0 + 6000}))

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, DecisionThrottled, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))

	clock.Advance(60 * time.Millisecond)
	assert.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))
	s.Wait()
}

func TestBackfillMinimumSpan(t *testing.T) {
	f := rangeFetcher()
	s := newSession(t, f, &fakeClock{now: time.Unix(100, 0)}, domrepo.TF1m, nil)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))
	s.Wait()

	q := f.last()
	assert.Equal(t, t0-1, *q.End)
	assert.Equal(t, t0-30*60, *q.Start)
	assert.Equal(t, 30, q.Limit)
}

func TestBackfillFailureKeepsState(t *testing.T) {
	f := rangeFetcher()
	events := make(chan BackfillEvent, 1)
	s := newSession(t, f, &fakeClock{now: time.Unix(100, 0)}, domrepo.TF1m, events)
	initial := makeBars(t0, t0+3540, 60)
	loadInitial(t, s, f, initial)

	f.mu.Lock()
	f.respond = func(domrepo.BarsQuery) ([]models.Bar, error) { return nil, errors.New("connection reset") }
	f.mu.Unlock()

	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 3, VisibleFrom: t0 + 120}))
	ev := <-events
	require.Equal(t, EventError, ev.Kind)

	assert.ErrorIs(t, s.LastError(), domrepo.ErrTransport)
	assert.Equal(t, initial, s.Bars())
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.False(t, s.InFlight())
}

func TestBackfillStaleAfterReset(t *testing.T) {
	f := rangeFetcher()
	events := make(chan BackfillEvent, 1)
	s := newSession(t, f, &fakeClock{now: time.Unix(100, 0)}, domrepo.TF1m, events)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	gate := make(chan struct{})
	f.setGate(gate)
	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0 + 300}))

	s.Reset(domrepo.TF1s, models.SeriesMarketCap)
	close(gate)
	s.Wait()

	assert.Empty(t, s.Bars())
	assert.Empty(t, events)
	assert.Equal(t, domrepo.TF1s, s.Params().Timeframe)
	assert.Equal(t, DecisionEmpty, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))
}

// mergeBlocker holds the fetch goroutine right after a merge, before the event
// is handed out.
type mergeBlocker struct {
	metrics.Nop
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *mergeBlocker) RecordBackfill(outcome string) {
	if outcome != "merged" {
		return
	}
	m.once.Do(func() {
		close(m.entered)
		<-m.release
	})
}

func TestBackfillEventDroppedWhenResetDuringMerge(t *testing.T) {
	f := rangeFetcher()
	events := make(chan BackfillEvent, 1)
	block := &mergeBlocker{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewBackfillSession(f, DefaultBackfillConfig(), BackfillSessionParams{
		SeriesID: "sol", Timeframe: domrepo.TF1m, DatasetNow: t0 + 3599,
	},
		WithClock((&fakeClock{now: time.Unix(100, 0)}).Now),
		WithBackfillMetrics(block),
		WithEventHandler(func(ev BackfillEvent) { events <- ev }),
	)
	t.Cleanup(s.Close)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0 + 300}))
	<-block.entered
	s.Reset(domrepo.TF1s, models.SeriesMarketCap)
	close(block.release)
	s.Wait()

	assert.Empty(t, events)
	assert.Empty(t, s.Bars())
	assert.Equal(t, domrepo.TF1s, s.Params().Timeframe)
}

func TestLoadSupersedesPendingFetch(t *testing.T) {
	f := rangeFetcher()
	clock := &fakeClock{now: time.Unix(100, 0)}
	events := make(chan BackfillEvent, 2)
	s := newSession(t, f, clock, domrepo.TF1m, events)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	gate := make(chan struct{})
	f.setGate(gate)
	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0 + 300}))
	// the fetch goroutine reads the gate when it records its query
	require.Eventually(t, func() bool { return f.count() == 2 }, 5*time.Second, time.Millisecond)
	f.setGate(nil)

	fresh := makeBars(t0+60, t0+3540, 60)
	loadInitial(t, s, f, fresh)

	// the pending fetch is cancelled, so Wait returns without opening the gate
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		close(gate)
		t.Fatal("pending fetch was not cancelled by Load")
	}
	assert.Empty(t, events)
	assert.Equal(t, fresh, s.Bars())
	assert.False(t, s.InFlight())

	clock.Advance(time.Second)
	gate = make(chan struct{})
	f.setGate(gate)
	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0 + 60}))
	clock.Advance(time.Second)
	assert.Equal(t, DecisionInFlight, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0 + 60}))
	close(gate)
	ev := <-events
	assert.Equal(t, EventPrepend, ev.Kind)
}

func TestBackfillWalksPastEmptyStretch(t *testing.T) {
	// nothing exists in the hour before t0
	cutoff := t0 - 3601
	f := &fakeFetcher{respond: func(q domrepo.BarsQuery) ([]models.Bar, error) {
		start := *q.Start
		if start > cutoff {
			return []models.Bar{}, nil
		}
		return makeBars(start-start%60, min(*q.End, cutoff), 60), nil
	}}
	clock := &fakeClock{now: time.Unix(100, 0)}
	events := make(chan BackfillEvent, 1)
	s := newSession(t, f, clock, domrepo.TF1m, events)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	edge := Viewport{BarsBefore: 0, VisibleFrom: t0}
	var added []int
	for range 3 {
		require.Equal(t, DecisionTriggered, s.Evaluate(edge))
		ev := <-events
		added = append(added, len(ev.Bars))
		clock.Advance(time.Second)
	}

	assert.Equal(t, []int{0, 0, 30}, added)
	assert.Equal(t, t0-5400, *f.last().Start)
	assert.Equal(t, t0-3601, *f.last().End)
	assert.Equal(t, t0-5400, s.Bars()[0].Time)
}

func TestBackfillEmptyStretchReachesOrigin(t *testing.T) {
	f := &fakeFetcher{respond: func(domrepo.BarsQuery) ([]models.Bar, error) { return []models.Bar{}, nil }}
	clock := &fakeClock{now: time.Unix(100, 0)}
	events := make(chan BackfillEvent, 1)
	s := NewBackfillSession(f, DefaultBackfillConfig(), BackfillSessionParams{
		SeriesID: "sol", Timeframe: domrepo.TF1m, Origin: t0 - 1800, DatasetNow: t0 + 3599,
	},
		WithClock(clock.Now),
		WithEventHandler(func(ev BackfillEvent) { events <- ev }),
	)
	t.Cleanup(s.Close)
	loadInitial(t, s, f, makeBars(t0, t0+3540, 60))

	require.Equal(t, DecisionTriggered, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))
	<-events
	clock.Advance(time.Second)
	assert.Equal(t, DecisionAtOrigin, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))
}

func TestBackfillGuards(t *testing.T) {
	f := rangeFetcher()

	s := newSession(t, f, &fakeClock{now: time.Unix(100, 0)}, domrepo.TF5m, nil)
	loadInitial(t, s, f, makeBars(t0, t0+3000, 300))
	assert.Equal(t, DecisionNotBackfillable, s.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))

	empty := newSession(t, f, &fakeClock{now: time.Unix(100, 0)}, domrepo.TF1s, nil)
	assert.Equal(t, DecisionEmpty, empty.Evaluate(Viewport{BarsBefore: 0}))

	atOrigin := NewBackfillSession(f, DefaultBackfillConfig(), BackfillSessionParams{
		SeriesID: "sol", Timeframe: domrepo.TF1m, Origin: t0, DatasetNow: t0 + 3599,
	})
	t.Cleanup(atOrigin.Close)
	loadInitial(t, atOrigin, f, makeBars(t0, t0+3540, 60))
	assert.Equal(t, DecisionAtOrigin, atOrigin.Evaluate(Viewport{BarsBefore: 0, VisibleFrom: t0}))

	atOrigin.Close()
	assert.Equal(t, DecisionClosed, atOrigin.Evaluate(Viewport{}))
}

func TestMergeOlder(t *testing.T) {
	loaded := makeBars(600, 1200, 60)
	older := makeBars(0, 660, 60) // overlaps loaded by two bars

	merged := MergeOlder(loaded, older)
	require.Len(t, merged, len(loaded)+10)
	for i := 1; i < len(merged); i++ {
		require.Greater(t, merged[i].Time, merged[i-1].Time)
	}
	assert.Equal(t, loaded, merged[10:])

	assert.Equal(t, loaded, MergeOlder(loaded, nil))
	assert.Equal(t, older, MergeOlder(nil, older))
}
