// Package coordinator runs plan workflows: it submits a remote agent task,
// polls the task and the resources it writes into, and settles each run as
// converged, failed or timed out. At most one run is active per plan and
// workflow; starting another supersedes it.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/observability"
	"wanderlust/internal/shared/async"
	"wanderlust/internal/shared/logging"
	"wanderlust/internal/shared/utils/id"
)

const recordTimeout = 5 * time.Second

// Notification event names.
const (
	EventRunStarted    = "run.started"
	EventRunProgress   = "run.progress"
	EventRunConverged  = "run.converged"
	EventRunFailed     = "run.failed"
	EventRunTimedOut   = "run.timed_out"
	EventRunSuperseded = "run.superseded"
	EventRunAborted    = "run.aborted"
)

// PromptBuilder renders prompts and lists the connectors per workflow.
type PromptBuilder interface {
	tracker.PromptBuilder
	Capabilities(kind tracker.WorkflowKind) []string
}

// Metrics receives run instrumentation.
type Metrics interface {
	RecordRunStarted(ctx context.Context, kind string)
	RecordRunFinished(ctx context.Context, kind, status string, duration time.Duration)
	RecordTick(ctx context.Context, kind string)
	RecordProbeFailure(ctx context.Context, kind, probe string)
}

// RunListener observes every state change of every run. It is called on the
// run's goroutine and must not block.
type RunListener interface {
	OnRunUpdate(view RunView)
}

// StartRequest describes a workflow invocation.
type StartRequest struct {
	PlanID     string
	Kind       tracker.WorkflowKind
	LocationID string
	UserID     string
	Context    tracker.PromptContext
	// Capabilities overrides the default connectors for the workflow.
	Capabilities []string
}

// Coordinator owns the registry of active runs.
type Coordinator struct {
	agent   tracker.AgentService
	fetcher tracker.ShapeFetcher
	prompts PromptBuilder

	notifier  tracker.Notifier
	recorder  tracker.RunRecorder
	metrics   Metrics
	tracer    *observability.TracerProvider
	listeners []RunListener
	cache     *ResultCache
	logger    logging.Logger
	cfg       Config
	clock     func() time.Time

	newTicker func(run *Run, interval time.Duration) runTicker
	onTick    func(view RunView)

	seq atomic.Uint64

	mu         sync.Mutex
	runs       map[Key]*Run
	registered map[Key]uint64
	closed     bool
	wg         sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithConfig overrides the polling configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		if !logging.IsNil(logger) {
			c.logger = logger
		}
	}
}

// WithNotifier attaches a fire-and-forget event sink.
func WithNotifier(n tracker.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithRecorder persists terminal runs.
func WithRecorder(r tracker.RunRecorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithMetrics attaches run metrics.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer attaches a tracer for tick spans.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp
		}
	}
}

// WithListener registers a run update listener.
func WithListener(l RunListener) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

// WithClock overrides the clock used for budgets and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New builds a coordinator. The agent, fetcher and prompt builder are required.
func New(agent tracker.AgentService, fetcher tracker.ShapeFetcher, prompts PromptBuilder, opts ...Option) (*Coordinator, error) {
	if agent == nil || fetcher == nil || prompts == nil {
		return nil, fmt.Errorf("coordinator: agent, fetcher and prompt builder are required")
	}
	c := &Coordinator{
		agent:      agent,
		fetcher:    fetcher,
		prompts:    prompts,
		tracer:     observability.NoopTracer(),
		logger:     logging.NewComponentLogger("Coordinator"),
		cfg:        DefaultConfig(),
		clock:      time.Now,
		newTicker:  newTimerTicker,
		runs:       make(map[Key]*Run),
		registered: make(map[Key]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.cfg = c.cfg.normalized()
	if c.cache == nil {
		c.cache = NewResultCache(c.cfg.ResultCacheSize, c.cfg.ResultTTL)
	}
	return c, nil
}

// NewKey builds the run slot for a plan workflow. The location only scopes
// workflows that require one.
func NewKey(planID string, kind tracker.WorkflowKind, locationID string) Key {
	key := Key{PlanID: strings.TrimSpace(planID), Kind: kind}
	if kind.RequiresLocation() {
		key.LocationID = strings.TrimSpace(locationID)
	}
	return key
}

// Start submits the workflow's task and begins polling. It returns as soon as
// the task is accepted. A submission failure leaves any prior run untouched.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*Run, error) {
	key, pc, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrClosed
	}

	prompt, err := c.prompts.Build(key.Kind, pc)
	if err != nil {
		return nil, validationError("build prompt: %v", err)
	}
	caps := req.Capabilities
	if len(caps) == 0 {
		caps = c.prompts.Capabilities(key.Kind)
	}

	generation := c.seq.Add(1)
	runID := id.NewRunID()
	ctx = id.WithRunID(id.WithPlanID(ctx, key.PlanID), runID)
	log := logging.FromContext(ctx, c.logger)

	handle, status, err := c.agent.Submit(ctx, prompt, caps)
	if err != nil {
		log.Warn("Submit %s failed: %v", key, err)
		return nil, fmt.Errorf("start %s: %w", key, err)
	}

	run := c.newRun(ctx, runID, key, req.UserID, generation, handle, status)
	prior, outcome := c.register(run)
	switch outcome {
	case registerClosed:
		c.settle(run, tracker.RunAborted, errShutdown)
		return run, nil
	case registerStale:
		log.Info("Run %s for %s superseded before it started", run.id, key)
		c.settle(run, tracker.RunSuperseded, errSuperseded)
		return run, nil
	}
	if prior != nil {
		log.Info("Run %s supersedes %s for %s", run.id, prior.id, key)
		c.settle(prior, tracker.RunSuperseded, errSuperseded)
	}

	view := run.View()
	if c.metrics != nil {
		c.metrics.RecordRunStarted(run.ctx, string(key.Kind))
	}
	c.notify(EventRunStarted, view)
	c.publish(view)
	log.Info("Run %s started for %s (task %s)", run.id, key, handle.ID)

	go func() {
		defer c.wg.Done()
		defer async.Recover(c.logger, "coordinator.run")
		c.loop(run)
	}()
	return run, nil
}

func (c *Coordinator) prepare(req StartRequest) (Key, tracker.PromptContext, error) {
	if _, err := tracker.ParseWorkflowKind(string(req.Kind)); err != nil {
		return Key{}, tracker.PromptContext{}, validationError("%v", err)
	}
	key := NewKey(req.PlanID, req.Kind, req.LocationID)
	if key.PlanID == "" {
		return Key{}, tracker.PromptContext{}, validationError("plan id is required")
	}
	if key.Kind.RequiresLocation() && key.LocationID == "" {
		return Key{}, tracker.PromptContext{}, validationError("%s requires a location id", key.Kind)
	}
	userID := strings.TrimSpace(req.UserID)
	if key.Kind == tracker.KindPreferenceSummary && userID == "" {
		return Key{}, tracker.PromptContext{}, validationError("%s requires a user id", key.Kind)
	}

	pc := req.Context
	pc.PlanID = key.PlanID
	pc.LocationID = key.LocationID
	pc.UserID = userID
	return key, pc, nil
}

func (c *Coordinator) newRun(ctx context.Context, runID string, key Key, userID string, generation uint64, handle tracker.TaskHandle, status tracker.TaskStatus) *Run {
	now := c.clock()
	if handle.SubmittedAt.IsZero() {
		handle.SubmittedAt = now
	}
	runCtx := id.WithLogID(context.Background(), id.LogIDFromContext(ctx))
	runCtx = id.WithRunID(id.WithPlanID(runCtx, key.PlanID), runID)
	if userID != "" {
		runCtx = id.WithUserID(runCtx, userID)
	}
	runCtx, cancel := context.WithCancelCause(runCtx)

	return &Run{
		id:         runID,
		key:        key,
		userID:     strings.TrimSpace(userID),
		generation: generation,
		handle:     handle,
		refs:       tracker.WatchedResources(key.Kind, key.PlanID, key.LocationID, userID),
		budget:     c.cfg.budgetFor(key.Kind),
		detector:   tracker.NewDetector(tracker.WithThreshold(c.cfg.Threshold)),
		ctx:        runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		status:     tracker.RunPolling,
		taskStatus: status,
		startedAt:  now,
		updatedAt:  now,
	}
}

type registerOutcome int

const (
	registerAccepted registerOutcome = iota
	registerStale
	registerClosed
)

// register installs run as the active run for its key unless a run from a
// later Start already holds the slot. An accepted run is counted on c.wg
// before the lock is released so Close never races the loop launch.
func (c *Coordinator) register(run *Run) (*Run, registerOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, registerClosed
	}
	if c.registered[run.key] > run.generation {
		return nil, registerStale
	}
	prior := c.runs[run.key]
	c.runs[run.key] = run
	c.registered[run.key] = run.generation
	c.wg.Add(1)
	return prior, registerAccepted
}

// settle forces a run into a terminal state from outside its loop.
func (c *Coordinator) settle(run *Run, status tracker.RunStatus, cause error) {
	run.mu.Lock()
	changed := run.finishLocked(status, cause, c.clock())
	run.mu.Unlock()
	run.cancel(cause)
	if changed {
		c.finalize(run)
	}
}

// finalize runs the side effects of a terminal transition exactly once.
func (c *Coordinator) finalize(run *Run) {
	run.cancel(nil)
	view := run.View()

	c.mu.Lock()
	if c.runs[run.key] == run {
		delete(c.runs, run.key)
		c.cache.Put(view)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordRunFinished(context.Background(), string(run.key.Kind), string(view.Status), view.UpdatedAt.Sub(view.StartedAt))
	}
	if c.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := c.recorder.RecordRun(ctx, view.record()); err != nil {
			c.logger.Warn("Record run %s failed: %v", run.id, err)
		}
		cancel()
	}
	c.notify(terminalEvent(view.Status), view)
	c.publish(view)

	log := logging.FromContext(run.ctx, c.logger)
	switch view.Status {
	case tracker.RunConverged:
		log.Info("Run %s converged after %d ticks with %d items", run.id, view.Ticks, view.Convergence.LastShape.Count)
	case tracker.RunSuperseded, tracker.RunAborted:
		log.Info("Run %s %s", run.id, view.Status)
	default:
		log.Warn("Run %s %s: %s", run.id, view.Status, view.Error)
	}
}

func terminalEvent(status tracker.RunStatus) string {
	switch status {
	case tracker.RunConverged:
		return EventRunConverged
	case tracker.RunFailed:
		return EventRunFailed
	case tracker.RunTimedOut:
		return EventRunTimedOut
	case tracker.RunSuperseded:
		return EventRunSuperseded
	default:
		return EventRunAborted
	}
}

type eventDetail struct {
	RunID      string               `json:"run_id"`
	PlanID     string               `json:"plan_id"`
	Kind       tracker.WorkflowKind `json:"kind"`
	LocationID string               `json:"location_id,omitempty"`
	UserID     string               `json:"user_id,omitempty"`
	Status     tracker.RunStatus    `json:"status"`
	Count      int                  `json:"count"`
	Error      string               `json:"error,omitempty"`
}

func (c *Coordinator) notify(event string, view RunView) {
	if c.notifier == nil {
		return
	}
	detail, err := json.Marshal(eventDetail{
		RunID:      view.RunID,
		PlanID:     view.PlanID,
		Kind:       view.Kind,
		LocationID: view.LocationID,
		UserID:     view.UserID,
		Status:     view.Status,
		Count:      view.Convergence.LastShape.Count,
		Error:      view.Error,
	})
	if err != nil {
		c.logger.Warn("Encode %s detail failed: %v", event, err)
		return
	}
	defer async.Recover(c.logger, "coordinator.notify")
	c.notifier.Notify(event, string(detail))
}

func (c *Coordinator) publish(view RunView) {
	for _, l := range c.listeners {
		func() {
			defer async.Recover(c.logger, "coordinator.listener")
			l.OnRunUpdate(view)
		}()
	}
}

// Get returns the active run for key, or the cached outcome of the last run.
func (c *Coordinator) Get(key Key) (RunView, error) {
	c.mu.Lock()
	run := c.runs[key]
	c.mu.Unlock()
	if run != nil {
		return run.View(), nil
	}
	if view, ok := c.cache.Get(key); ok {
		return view, nil
	}
	return RunView{}, notFoundError("no run for %s", key)
}

// Active returns the active run for key.
func (c *Coordinator) Active(key Key) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[key]
	return run, ok
}

// List returns every active run ordered by start time.
func (c *Coordinator) List() []RunView {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, run.View())
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].StartedAt.Equal(views[j].StartedAt) {
			return views[i].RunID < views[j].RunID
		}
		return views[i].StartedAt.Before(views[j].StartedAt)
	})
	return views
}

// History returns recorded terminal runs.
func (c *Coordinator) History(ctx context.Context, filter tracker.RunFilter) ([]tracker.RunRecord, error) {
	if c.recorder == nil {
		return nil, fmt.Errorf("%w: run history is not configured", ErrUnavailable)
	}
	return c.recorder.ListRuns(ctx, filter)
}

// Wait blocks until run is terminal or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, run *Run) (Result, error) {
	if run == nil {
		return Result{}, validationError("run is nil")
	}
	select {
	case <-run.Done():
		result, _ := run.Result()
		return result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close aborts every active run and waits for their loops to exit.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	runs := make([]*Run, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	for _, run := range runs {
		c.settle(run, tracker.RunAborted, errShutdown)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}
