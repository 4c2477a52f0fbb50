package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"wanderlust/internal/domain/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTaskWithEmptyResourceKeepsPolling(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, tracker.Shape{})

	run := h.start(suggestionRequest("plan-1"))
	for i := 0; i < 3; i++ {
		view := h.tick(run)
		assert.Equal(t, tracker.RunPolling, view.Status)
		assert.Equal(t, tracker.TaskPending, view.TaskState)
		assert.False(t, view.Convergence.Converged)
	}
	assert.Equal(t, tracker.RunPolling, run.Status())
	_, done := run.Result()
	assert.False(t, done)
}

func TestRunConvergesAfterResourceStabilizes(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, tracker.Shape{}, tracker.Shape{}, tracker.Shape{}, fiveLocations())

	run := h.start(suggestionRequest("plan-1"))
	for i := 0; i < 3; i++ {
		require.Equal(t, tracker.RunPolling, h.tick(run).Status)
	}

	view := h.tick(run)
	require.Equal(t, tracker.RunPolling, view.Status)
	assert.Zero(t, view.Convergence.UnchangedCount)

	for i := 1; i < 3; i++ {
		view = h.tick(run)
		require.Equal(t, tracker.RunPolling, view.Status)
		assert.Equal(t, i, view.Convergence.UnchangedCount)
	}

	view = h.tick(run)
	assert.Equal(t, tracker.RunConverged, view.Status)
	assert.Equal(t, 7, view.Ticks)

	result, err := h.coord.Wait(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, tracker.RunConverged, result.Status)
	assert.Equal(t, 5, result.Snapshot.Count)
	assert.NoError(t, result.Err)

	cached, err := h.coord.Get(run.Key())
	require.NoError(t, err)
	assert.Equal(t, tracker.RunConverged, cached.Status)
	assert.Empty(t, h.coord.List())

	assert.Equal(t, []string{EventRunStarted, EventRunProgress, EventRunConverged}, h.notifier.Events())
	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, tracker.RunConverged, h.recorder.records[0].Status)
	assert.Equal(t, 5, h.recorder.records[0].ShapeCount)
}

func TestFailedTaskEndsRunImmediately(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())
	h.agent.setStatuses(tracker.TaskStatus{State: tracker.TaskFailed, Error: "agent error"})

	run := h.start(suggestionRequest("plan-1"))
	view := h.tick(run)
	assert.Equal(t, tracker.RunFailed, view.Status)
	assert.Contains(t, view.Error, "agent error")

	result, err := h.coord.Wait(context.Background(), run)
	require.NoError(t, err)
	var failed *tracker.TaskFailedError
	require.ErrorAs(t, result.Err, &failed)
	assert.Equal(t, "agent error", failed.Reason)
	assert.Equal(t, run.Handle().ID, failed.TaskID)
	assert.Contains(t, h.notifier.Events(), EventRunFailed)
}

func TestFailureWinsOverConvergence(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 1
	h := newHarness(t, cfg)
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())

	run := h.start(suggestionRequest("plan-1"))
	require.Equal(t, tracker.RunPolling, h.tick(run).Status)

	h.agent.setStatuses(tracker.TaskStatus{State: tracker.TaskFailed, Error: "boom"})
	assert.Equal(t, tracker.RunFailed, h.tick(run).Status)
}

func TestChangingResourceTimesOutWithLastSnapshot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDuration = 5 * cfg.Interval
	cfg.MaxTicks = 0
	h := newHarness(t, cfg)

	var mu sync.Mutex
	n := 0
	h.fetcher.setFunc(func(context.Context, tracker.ResourceRef) (tracker.Shape, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("loc-%d", i)
		}
		return tracker.Shape{Count: n, IDs: ids}, nil
	})

	run := h.start(suggestionRequest("plan-1"))
	var view RunView
	for i := 0; i < 5; i++ {
		view = h.tick(run)
	}
	assert.Equal(t, tracker.RunTimedOut, view.Status)

	result, err := h.coord.Wait(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Snapshot.Count)
	var timeout *tracker.ConvergenceTimeoutError
	require.ErrorAs(t, result.Err, &timeout)
	assert.Equal(t, 5, timeout.Ticks)
}

func TestTickBudgetTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTicks = 2
	h := newHarness(t, cfg)
	h.fetcher.script(tracker.ResourceLocations, tracker.Shape{})

	run := h.start(suggestionRequest("plan-1"))
	assert.Equal(t, tracker.RunPolling, h.tick(run).Status)
	assert.Equal(t, tracker.RunTimedOut, h.tick(run).Status)
}

func TestPersistentProbeFailuresTimeOut(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setFunc(func(context.Context, tracker.ResourceRef) (tracker.Shape, error) {
		return tracker.Shape{}, errors.New("db down")
	})
	h.agent.queryErr = &tracker.RemoteQueryError{TaskID: "task-1", Err: errors.New("connection refused")}

	run := h.start(suggestionRequest("plan-1"))
	for i := 0; i < 3; i++ {
		view := h.tick(run)
		require.Equal(t, tracker.RunPolling, view.Status)
		assert.Equal(t, i+1, view.ProbeFailures)
	}
	view := h.tick(run)
	assert.Equal(t, tracker.RunTimedOut, view.Status)
	assert.Contains(t, view.Error, "probes keep failing")
}

func TestSingleProbeFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())

	run := h.start(suggestionRequest("plan-1"))
	h.tick(run)
	h.tick(run)

	h.agent.mu.Lock()
	h.agent.queryErr = errors.New("timeout")
	h.agent.mu.Unlock()
	view := h.tick(run)
	assert.Equal(t, tracker.RunPolling, view.Status)
	assert.Zero(t, view.ProbeFailures)
	assert.Equal(t, 2, view.Convergence.UnchangedCount)

	assert.Equal(t, tracker.RunConverged, h.tick(run).Status)
}

func TestCompletedStatusIsInformationalByDefault(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())
	h.agent.setStatuses(tracker.TaskStatus{State: tracker.TaskCompleted, Result: "done"})

	run := h.start(suggestionRequest("plan-1"))
	for i := 0; i < 3; i++ {
		view := h.tick(run)
		require.Equal(t, tracker.RunPolling, view.Status)
		assert.Equal(t, tracker.TaskCompleted, view.TaskState)
	}
	assert.Equal(t, tracker.RunConverged, h.tick(run).Status)
}

func TestCompletedThresholdShortensConvergence(t *testing.T) {
	cfg := testConfig()
	cfg.CompletedThreshold = 1
	h := newHarness(t, cfg)
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())
	h.agent.setStatuses(tracker.TaskStatus{State: tracker.TaskCompleted})

	run := h.start(suggestionRequest("plan-1"))
	assert.Equal(t, tracker.RunPolling, h.tick(run).Status)
	view := h.tick(run)
	assert.Equal(t, tracker.RunConverged, view.Status)
	assert.Equal(t, 1, view.Threshold)
}

func TestNewRunSupersedesPriorRun(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())

	first := h.start(suggestionRequest("plan-1"))
	h.tick(first)
	second := h.start(suggestionRequest("plan-1"))

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded run did not finish")
	}
	frozen := first.View()
	assert.Equal(t, tracker.RunSuperseded, frozen.Status)
	assert.Equal(t, 1, frozen.Ticks)

	for i := 0; i < 3; i++ {
		h.tick(second)
	}
	assert.Equal(t, frozen, first.View())

	active, err := h.coord.Get(second.Key())
	require.NoError(t, err)
	assert.Equal(t, second.ID(), active.RunID)
	assert.Contains(t, h.notifier.Events(), EventRunSuperseded)
}

func TestSupersededRunDiscardsInFlightTick(t *testing.T) {
	h := newHarness(t, testConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.fetcher.setFunc(func(ctx context.Context, _ tracker.ResourceRef) (tracker.Shape, error) {
		blocked := false
		once.Do(func() { blocked = true })
		if blocked {
			close(entered)
			<-release
		}
		return fiveLocations(), nil
	})

	first := h.start(suggestionRequest("plan-1"))
	ch := h.tickerFor(first)
	ch <- time.Now()
	<-entered

	second := h.start(suggestionRequest("plan-1"))
	frozen := first.View()
	require.Equal(t, tracker.RunSuperseded, frozen.Status)
	close(release)

	require.Equal(t, tracker.RunPolling, h.tick(second).Status)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Close(ctx))

	assert.Equal(t, frozen, first.View())
	assert.Zero(t, frozen.Ticks)
	assert.Zero(t, frozen.Convergence.Observations)
}

func TestLateSubmissionIsSupersededByNewerStart(t *testing.T) {
	h := newHarness(t, testConfig())
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	h.agent.submitHook = func(n int) {
		if n == 1 {
			close(firstEntered)
			<-releaseFirst
		}
	}

	type outcome struct {
		run *Run
		err error
	}
	late := make(chan outcome, 1)
	go func() {
		run, err := h.coord.Start(context.Background(), suggestionRequest("plan-1"))
		late <- outcome{run, err}
	}()
	<-firstEntered

	newer := h.start(suggestionRequest("plan-1"))
	close(releaseFirst)

	got := <-late
	require.NoError(t, got.err)
	assert.Equal(t, tracker.RunSuperseded, got.run.Status())

	active, ok := h.coord.Active(newer.Key())
	require.True(t, ok)
	assert.Equal(t, newer.ID(), active.ID())
	assert.Equal(t, tracker.RunPolling, newer.Status())
}

func TestSubmissionFailureRegistersNothing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.agent.submitErr = &tracker.RemoteSubmissionError{StatusCode: 502, Body: "bad gateway"}

	_, err := h.coord.Start(context.Background(), suggestionRequest("plan-1"))
	var subErr *tracker.RemoteSubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 502, subErr.StatusCode)

	_, err = h.coord.Get(NewKey("plan-1", tracker.KindLocationSuggestion, ""))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, h.notifier.Events())
}

func TestSubmissionFailureLeavesPriorRunRunning(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceLocations, fiveLocations())
	prior := h.start(suggestionRequest("plan-1"))

	h.agent.mu.Lock()
	h.agent.submitErr = &tracker.RemoteSubmissionError{StatusCode: 500}
	h.agent.mu.Unlock()
	_, err := h.coord.Start(context.Background(), suggestionRequest("plan-1"))
	require.Error(t, err)

	assert.Equal(t, tracker.RunPolling, prior.Status())
	assert.Equal(t, tracker.RunPolling, h.tick(prior).Status)
}

func TestStartValidatesRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	cases := []StartRequest{
		{Kind: tracker.KindLocationSuggestion},
		{PlanID: "plan-1", Kind: "hotel-booking"},
		{PlanID: "plan-1", Kind: tracker.KindLocationResearch},
		{PlanID: "plan-1", Kind: tracker.KindPreferenceSummary},
	}
	for _, req := range cases {
		_, err := h.coord.Start(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation, "%+v", req)
	}
	assert.Zero(t, h.agent.submitCount())
}

func TestStartUsesDefaultOrExplicitCapabilities(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(suggestionRequest("plan-1"))
	h.start(StartRequest{PlanID: "plan-2", Kind: tracker.KindLocationSuggestion, Capabilities: []string{"maps"}})

	h.agent.mu.Lock()
	defer h.agent.mu.Unlock()
	assert.Equal(t, []string{"default:location-suggestion"}, h.agent.caps[0])
	assert.Equal(t, []string{"maps"}, h.agent.caps[1])
	assert.Equal(t, "location-suggestion for plan-1  user-1", h.agent.prompts[0])
}

func TestResearchRunsArePerLocationAndComposite(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.script(tracker.ResourceAccommodations, tracker.Shape{Count: 2, IDs: []string{"h1", "h2"}})
	h.fetcher.script(tracker.ResourceActivities, tracker.Shape{Count: 1, IDs: []string{"a1"}})
	h.fetcher.script(tracker.ResourceTransports, tracker.Shape{})

	lisbon := h.start(StartRequest{PlanID: "plan-1", Kind: tracker.KindLocationResearch, LocationID: "lisbon"})
	porto := h.start(StartRequest{PlanID: "plan-1", Kind: tracker.KindLocationResearch, LocationID: "porto"})
	assert.NotEqual(t, lisbon.Key(), porto.Key())
	assert.Len(t, h.coord.List(), 2)

	view := h.tick(lisbon)
	assert.Equal(t, 3, view.Convergence.LastShape.Count)
	assert.Contains(t, view.Convergence.LastShape.IDs, "accommodations:h1")
	assert.Equal(t, tracker.RunPolling, porto.Status())
}

func TestCloseAbortsActiveRuns(t *testing.T) {
	h := newHarness(t, testConfig())
	run := h.start(suggestionRequest("plan-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Close(ctx))

	assert.Equal(t, tracker.RunAborted, run.Status())
	assert.Contains(t, h.notifier.Events(), EventRunAborted)

	_, err := h.coord.Start(context.Background(), suggestionRequest("plan-2"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestWaitHonoursContext(t *testing.T) {
	h := newHarness(t, testConfig())
	run := h.start(suggestionRequest("plan-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.coord.Wait(ctx, run)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHistoryReadsRecorder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.agent.setStatuses(tracker.TaskStatus{State: tracker.TaskFailed})
	run := h.start(suggestionRequest("plan-1"))
	h.tick(run)

	records, err := h.coord.History(context.Background(), tracker.RunFilter{PlanID: "plan-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, tracker.RunFailed, records[0].Status)

	bare, err := New(h.agent, h.fetcher, stubPrompts{})
	require.NoError(t, err)
	_, err = bare.History(context.Background(), tracker.RunFilter{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

type collectingListener struct {
	mu    sync.Mutex
	views []RunView
}

func (l *collectingListener) OnRunUpdate(view RunView) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views = append(l.views, view)
}

func TestListenerSeesEveryTransition(t *testing.T) {
	listener := &collectingListener{}
	h := newHarness(t, testConfig(), WithListener(listener))
	h.agent.setStatuses(tracker.TaskStatus{State: tracker.TaskFailed, Error: "x"})

	run := h.start(suggestionRequest("plan-1"))
	h.tick(run)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.views, 2)
	assert.Equal(t, tracker.RunPolling, listener.views[0].Status)
	assert.Equal(t, tracker.RunFailed, listener.views[1].Status)
}

func TestPanickingNotifierIsContained(t *testing.T) {
	h := newHarness(t, testConfig(), WithNotifier(panicNotifier{}))
	run := h.start(suggestionRequest("plan-1"))
	assert.Equal(t, tracker.RunPolling, run.Status())
}

type panicNotifier struct{}

func (panicNotifier) Notify(string, string) { panic("sink exploded") }
