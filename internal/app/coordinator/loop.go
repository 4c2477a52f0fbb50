package coordinator

import (
	"context"
	"time"

	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/infra/observability"
	"wanderlust/internal/shared/logging"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// runTicker paces a run's ticks. Rearm is called after each tick completes,
// so the next tick is scheduled only once the previous one is done.
type runTicker interface {
	C() <-chan time.Time
	Rearm()
	Stop()
}

type timerTicker struct {
	timer    *time.Timer
	interval time.Duration
}

func newTimerTicker(_ *Run, interval time.Duration) runTicker {
	return &timerTicker{timer: time.NewTimer(interval), interval: interval}
}

func (t *timerTicker) C() <-chan time.Time { return t.timer.C }
func (t *timerTicker) Rearm()              { t.timer.Reset(t.interval) }
func (t *timerTicker) Stop()               { t.timer.Stop() }

func (c *Coordinator) loop(run *Run) {
	ticker := c.newTicker(run, c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.ctx.Done():
			return
		case <-ticker.C():
		}
		if finished := c.tick(run); finished {
			return
		}
		ticker.Rearm()
	}
}

type tickOutcome struct {
	finished    bool
	progress    bool
	fetchFailed bool
	queryFailed bool
}

// tick performs one poll and reports whether the run is finished. Results
// are applied under the run lock only while the run is still live, so a
// superseded run never mutates after supersession.
func (c *Coordinator) tick(run *Run) bool {
	kind := string(run.key.Kind)
	ctx, span := c.tracer.StartSpan(run.ctx, observability.SpanRunTick, attribute.String(observability.AttrKind, kind))
	defer span.End()
	log := logging.FromContext(ctx, c.logger)

	shape, fetchErr := c.observe(ctx, run.refs)
	status, queryErr := c.agent.Query(ctx, run.handle.ID)
	now := c.clock()

	run.mu.Lock()
	if !run.liveLocked() {
		run.mu.Unlock()
		return true
	}
	out := c.applyLocked(run, shape, fetchErr, status, queryErr, now)
	view := run.viewLocked()
	run.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordTick(ctx, kind)
		if out.fetchFailed {
			c.metrics.RecordProbeFailure(ctx, kind, "shape")
		}
		if out.queryFailed {
			c.metrics.RecordProbeFailure(ctx, kind, "status")
		}
	}
	if fetchErr != nil {
		log.Warn("Run %s tick %d: fetch shape failed: %v", run.id, view.Ticks, fetchErr)
	}
	if queryErr != nil {
		log.Warn("Run %s tick %d: query task failed: %v", run.id, view.Ticks, queryErr)
	}
	log.Debug("Run %s tick %d: status=%s task=%s unchanged=%d count=%d",
		run.id, view.Ticks, view.Status, view.TaskState, view.Convergence.UnchangedCount, view.Convergence.LastShape.Count)
	span.SetAttributes(
		attribute.Int("tick", view.Ticks),
		attribute.String(observability.AttrStatus, string(view.Status)),
		attribute.Int("unchanged_count", view.Convergence.UnchangedCount),
	)

	if out.progress {
		c.notify(EventRunProgress, view)
	}
	if out.finished {
		c.finalize(run)
	} else {
		c.publish(view)
	}
	if c.onTick != nil {
		c.onTick(run.View())
	}
	return out.finished
}

// applyLocked folds one tick into the run. Failure wins over convergence,
// and convergence wins over budget exhaustion. Callers hold run.mu.
func (c *Coordinator) applyLocked(run *Run, shape tracker.Shape, fetchErr error, status tracker.TaskStatus, queryErr error, now time.Time) tickOutcome {
	var out tickOutcome
	run.ticks++
	run.updatedAt = now

	var state tracker.ConvergenceState
	if fetchErr != nil {
		out.fetchFailed = true
		state = run.detector.ObserveFailure()
	} else {
		state = run.detector.Observe(shape)
		out.progress = state.UnchangedCount == 0 && !shape.IsEmpty()
	}

	if queryErr != nil {
		out.queryFailed = true
	} else {
		run.taskStatus = status
	}
	if out.fetchFailed && out.queryFailed {
		run.probeFailures++
	} else {
		run.probeFailures = 0
	}

	if queryErr == nil {
		switch status.State {
		case tracker.TaskFailed:
			out.finished = run.finishLocked(tracker.RunFailed, &tracker.TaskFailedError{TaskID: run.handle.ID, Reason: status.Error}, now)
			return out
		case tracker.TaskCompleted:
			if c.cfg.CompletedThreshold > 0 {
				state = run.detector.RelaxTo(c.cfg.CompletedThreshold)
			}
		}
	}

	if state.Converged {
		out.finished = run.finishLocked(tracker.RunConverged, nil, now)
		return out
	}

	elapsed := now.Sub(run.startedAt)
	if run.budget.exhausted(elapsed, run.ticks) {
		out.finished = run.finishLocked(tracker.RunTimedOut, &tracker.ConvergenceTimeoutError{
			Elapsed: elapsed,
			Ticks:   run.ticks,
			Reason:  "budget exhausted",
		}, now)
		return out
	}
	if run.probeFailures > c.cfg.MaxProbeFailures {
		out.finished = run.finishLocked(tracker.RunTimedOut, &tracker.ConvergenceTimeoutError{
			Elapsed: elapsed,
			Ticks:   run.ticks,
			Reason:  "status and resource probes keep failing",
		}, now)
	}
	return out
}

// observe fetches every watched resource, concurrently when there are several,
// and merges them into one shape.
func (c *Coordinator) observe(ctx context.Context, refs []tracker.ResourceRef) (tracker.Shape, error) {
	switch len(refs) {
	case 0:
		return tracker.Shape{}, nil
	case 1:
		return c.fetcher.FetchShape(ctx, refs[0])
	}

	shapes := make([]tracker.Shape, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			shape, err := c.fetcher.FetchShape(gctx, ref)
			if err != nil {
				return err
			}
			shapes[i] = shape
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tracker.Shape{}, err
	}

	parts := make(map[tracker.ResourceKind]tracker.Shape, len(refs))
	for i, ref := range refs {
		parts[ref.Kind] = shapes[i]
	}
	return tracker.MergeShapes(parts), nil
}
