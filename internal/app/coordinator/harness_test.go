package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/shared/logging"

	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu         sync.Mutex
	submitErr  error
	submitHook func(n int)
	submits    int
	prompts    []string
	caps       [][]string
	statuses   []tracker.TaskStatus
	queryErr   error
	queries    int
}

func (a *fakeAgent) Submit(_ context.Context, prompt string, capabilities []string) (tracker.TaskHandle, tracker.TaskStatus, error) {
	a.mu.Lock()
	a.submits++
	n := a.submits
	hook := a.submitHook
	err := a.submitErr
	a.prompts = append(a.prompts, prompt)
	a.caps = append(a.caps, capabilities)
	a.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return tracker.TaskHandle{}, tracker.TaskStatus{}, err
	}
	return tracker.TaskHandle{ID: fmt.Sprintf("task-%d", n)}, tracker.TaskStatus{State: tracker.TaskPending}, nil
}

func (a *fakeAgent) Query(context.Context, string) (tracker.TaskStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries++
	if a.queryErr != nil {
		return tracker.TaskStatus{}, a.queryErr
	}
	if len(a.statuses) == 0 {
		return tracker.TaskStatus{State: tracker.TaskPending}, nil
	}
	status := a.statuses[0]
	if len(a.statuses) > 1 {
		a.statuses = a.statuses[1:]
	}
	return status, nil
}

func (a *fakeAgent) setStatuses(statuses ...tracker.TaskStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses = statuses
}

func (a *fakeAgent) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submits
}

type fakeFetcher struct {
	mu      sync.Mutex
	scripts map[tracker.ResourceKind][]tracker.Shape
	fn      func(ctx context.Context, ref tracker.ResourceRef) (tracker.Shape, error)
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{scripts: make(map[tracker.ResourceKind][]tracker.Shape)}
}

// script queues shapes for a resource; the last one repeats.
func (f *fakeFetcher) script(kind tracker.ResourceKind, shapes ...tracker.Shape) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[kind] = shapes
}

func (f *fakeFetcher) setFunc(fn func(ctx context.Context, ref tracker.ResourceRef) (tracker.Shape, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeFetcher) FetchShape(ctx context.Context, ref tracker.ResourceRef) (tracker.Shape, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	var shape tracker.Shape
	if fn == nil {
		queue := f.scripts[ref.Kind]
		if len(queue) > 0 {
			shape = queue[0]
			if len(queue) > 1 {
				f.scripts[ref.Kind] = queue[1:]
			}
		}
	}
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, ref)
	}
	return shape, nil
}

type stubPrompts struct{}

func (stubPrompts) Build(kind tracker.WorkflowKind, pc tracker.PromptContext) (string, error) {
	return fmt.Sprintf("%s for %s %s %s", kind, pc.PlanID, pc.LocationID, pc.UserID), nil
}

func (stubPrompts) Capabilities(kind tracker.WorkflowKind) []string {
	return []string{"default:" + string(kind)}
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []string
	details []string
}

func (n *recordingNotifier) Notify(event, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.details = append(n.details, detail)
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type memRecorder struct {
	mu      sync.Mutex
	records []tracker.RunRecord
}

func (r *memRecorder) RecordRun(_ context.Context, rec tracker.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) ListRuns(_ context.Context, filter tracker.RunFilter) ([]tracker.RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tracker.RunRecord
	for _, rec := range r.records {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	ch chan time.Time
}

func (m manualTicker) C() <-chan time.Time { return m.ch }
func (manualTicker) Rearm()                {}
func (manualTicker) Stop()                 {}

type harness struct {
	t        *testing.T
	cfg      Config
	coord    *Coordinator
	agent    *fakeAgent
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	recorder *memRecorder
	clock    *fakeClock

	mu      sync.Mutex
	tickers map[string]chan time.Time
	ticked  chan RunView
}

func testConfig() Config {
	return Config{
		Interval:            time.Second,
		Threshold:           3,
		MaxDuration:         time.Hour,
		ResearchMaxDuration: time.Hour,
		MaxTicks:            100,
		MaxProbeFailures:    3,
	}
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		cfg:      cfg,
		agent:    &fakeAgent{},
		fetcher:  newFakeFetcher(),
		notifier: &recordingNotifier{},
		recorder: &memRecorder{},
		clock:    &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
		tickers:  make(map[string]chan time.Time),
		ticked:   make(chan RunView, 64),
	}
	base := []Option{
		WithConfig(cfg),
		WithNotifier(h.notifier),
		WithRecorder(h.recorder),
		WithClock(h.clock.Now),
		WithLogger(logging.Nop()),
	}
	coord, err := New(h.agent, h.fetcher, stubPrompts{}, append(base, opts...)...)
	require.NoError(t, err)
	coord.newTicker = func(run *Run, _ time.Duration) runTicker {
		ch := make(chan time.Time)
		h.mu.Lock()
		h.tickers[run.ID()] = ch
		h.mu.Unlock()
		return manualTicker{ch: ch}
	}
	coord.onTick = func(view RunView) { h.ticked <- view }
	h.coord = coord
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coord.Close(ctx)
	})
	return h
}

func (h *harness) start(req StartRequest) *Run {
	h.t.Helper()
	run, err := h.coord.Start(context.Background(), req)
	require.NoError(h.t, err)
	return run
}

func (h *harness) tickerFor(run *Run) chan time.Time {
	h.t.Helper()
	var ch chan time.Time
	require.Eventually(h.t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		ch = h.tickers[run.ID()]
		return ch != nil
	}, 2*time.Second, time.Millisecond)
	return ch
}

// tick advances the clock by one interval, fires the run's ticker and waits
// for the tick to be applied.
func (h *harness) tick(run *Run) RunView {
	h.t.Helper()
	ch := h.tickerFor(run)
	h.clock.Advance(h.cfg.Interval)
	select {
	case ch <- h.clock.Now():
	case <-time.After(2 * time.Second):
		h.t.Fatalf("run %s did not accept tick", run.ID())
	}
	select {
	case view := <-h.ticked:
		return view
	case <-time.After(2 * time.Second):
		h.t.Fatalf("run %s tick did not complete", run.ID())
	}
	return RunView{}
}

func suggestionRequest(planID string) StartRequest {
	return StartRequest{PlanID: planID, Kind: tracker.KindLocationSuggestion, UserID: "user-1"}
}

func fiveLocations() tracker.Shape {
	return tracker.Shape{Count: 5, IDs: []string{"a", "b", "c", "d", "e"}}
}
