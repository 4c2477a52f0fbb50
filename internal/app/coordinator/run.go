package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wanderlust/internal/domain/tracker"
)

// Key identifies the single active run slot. Research runs are additionally
// scoped by location so different locations of a plan research concurrently.
type Key struct {
	PlanID     string
	Kind       tracker.WorkflowKind
	LocationID string
}

func (k Key) String() string {
	if k.LocationID == "" {
		return fmt.Sprintf("%s/%s", k.PlanID, k.Kind)
	}
	return fmt.Sprintf("%s/%s/%s", k.PlanID, k.Kind, k.LocationID)
}

// Result is the terminal outcome of a run.
type Result struct {
	Status    tracker.RunStatus
	Snapshot  tracker.Shape
	Signature string
	Ticks     int
	Err       error
}

// RunView is a read-only snapshot of a run for API responses and streams.
type RunView struct {
	RunID         string                   `json:"run_id"`
	PlanID        string                   `json:"plan_id"`
	Kind          tracker.WorkflowKind     `json:"kind"`
	LocationID    string                   `json:"location_id,omitempty"`
	UserID        string                   `json:"user_id,omitempty"`
	TaskID        string                   `json:"task_id,omitempty"`
	Status        tracker.RunStatus        `json:"status"`
	TaskState     tracker.TaskState        `json:"task_state,omitempty"`
	TaskResult    string                   `json:"task_result,omitempty"`
	Convergence   tracker.ConvergenceState `json:"convergence"`
	Threshold     int                      `json:"threshold"`
	Ticks         int                      `json:"ticks"`
	ProbeFailures int                      `json:"consecutive_probe_failures"`
	Error         string                   `json:"error,omitempty"`
	StartedAt     time.Time                `json:"started_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
	FinishedAt    *time.Time               `json:"finished_at,omitempty"`
}

// Key returns the run slot the view belongs to.
func (v RunView) Key() Key {
	return Key{PlanID: v.PlanID, Kind: v.Kind, LocationID: v.LocationID}
}

// Run is one invocation of a plan workflow.
type Run struct {
	id         string
	key        Key
	userID     string
	generation uint64
	handle     tracker.TaskHandle
	refs       []tracker.ResourceRef
	budget     budget
	detector   *tracker.Detector

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu            sync.RWMutex
	status        tracker.RunStatus
	taskStatus    tracker.TaskStatus
	ticks         int
	probeFailures int
	err           error
	startedAt     time.Time
	updatedAt     time.Time
	finishedAt    time.Time
	result        *Result
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Key returns the run slot.
func (r *Run) Key() Key { return r.key }

// Handle returns the remote task handle.
func (r *Run) Handle() tracker.TaskHandle { return r.handle }

// Done is closed once the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Status returns the current status.
func (r *Run) Status() tracker.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Result returns the terminal result once available.
func (r *Run) Result() (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.result == nil {
		return Result{}, false
	}
	return *r.result, true
}

// View snapshots the run.
func (r *Run) View() RunView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewLocked()
}

func (r *Run) viewLocked() RunView {
	view := RunView{
		RunID:         r.id,
		PlanID:        r.key.PlanID,
		Kind:          r.key.Kind,
		LocationID:    r.key.LocationID,
		UserID:        r.userID,
		TaskID:        r.handle.ID,
		Status:        r.status,
		TaskState:     r.taskStatus.State,
		TaskResult:    r.taskStatus.Result,
		Convergence:   r.detector.State(),
		Threshold:     r.detector.Threshold(),
		Ticks:         r.ticks,
		ProbeFailures: r.probeFailures,
		StartedAt:     r.startedAt,
		UpdatedAt:     r.updatedAt,
	}
	if r.err != nil {
		view.Error = r.err.Error()
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		view.FinishedAt = &finished
	}
	return view
}

// record converts the terminal view into an audit row.
func (v RunView) record() tracker.RunRecord {
	rec := tracker.RunRecord{
		RunID:          v.RunID,
		PlanID:         v.PlanID,
		Kind:           v.Kind,
		LocationID:     v.LocationID,
		UserID:         v.UserID,
		TaskID:         v.TaskID,
		Status:         v.Status,
		Signature:      v.Convergence.LastSignature,
		UnchangedCount: v.Convergence.UnchangedCount,
		ShapeCount:     v.Convergence.LastShape.Count,
		Ticks:          v.Ticks,
		Error:          v.Error,
		StartedAt:      v.StartedAt,
	}
	if v.FinishedAt != nil {
		rec.FinishedAt = *v.FinishedAt
	}
	return rec
}

// liveLocked reports whether the run may still mutate. Callers hold r.mu.
func (r *Run) liveLocked() bool {
	return !r.status.IsTerminal() && r.ctx.Err() == nil
}

// finishLocked moves the run to a terminal state. It returns false when the
// run was already terminal. Callers hold r.mu.
func (r *Run) finishLocked(status tracker.RunStatus, err error, now time.Time) bool {
	if r.status.IsTerminal() {
		return false
	}
	state := r.detector.State()
	r.status = status
	r.err = err
	r.updatedAt = now
	r.finishedAt = now
	r.result = &Result{
		Status:    status,
		Snapshot:  state.LastShape,
		Signature: state.LastSignature,
		Ticks:     r.ticks,
		Err:       err,
	}
	close(r.done)
	return true
}
