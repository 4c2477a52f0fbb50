// Package tracker defines the asynchronous task convergence model: remote task
// handles and statuses, watched resource shapes, and the detector that decides
// when a resource has stopped changing.
package tracker

import (
	"fmt"
	"strings"
	"time"
)

// TaskState is the normalized state of a remote long-running task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// NormalizeTaskState folds vendor status strings into the three states the
// tracker reasons about. Unknown values are treated as pending.
func NormalizeTaskState(raw string) TaskState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "succeeded", "success", "done":
		return TaskCompleted
	case "failed", "error", "errored", "cancelled", "canceled":
		return TaskFailed
	default:
		return TaskPending
	}
}

// TaskHandle identifies a submitted remote task.
type TaskHandle struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TaskStatus is a point-in-time view of a remote task.
type TaskStatus struct {
	State  TaskState `json:"state"`
	Result string    `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// WorkflowKind names one of the agent workflows a plan can run.
type WorkflowKind string

const (
	KindLocationSuggestion WorkflowKind = "location-suggestion"
	KindLocationResearch   WorkflowKind = "location-research"
	KindPreferenceSummary  WorkflowKind = "preference-summary"
)

// Kinds lists every supported workflow kind.
func Kinds() []WorkflowKind {
	return []WorkflowKind{KindLocationSuggestion, KindLocationResearch, KindPreferenceSummary}
}

// ParseWorkflowKind validates a kind coming from configuration or a request path.
func ParseWorkflowKind(raw string) (WorkflowKind, error) {
	kind := WorkflowKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds() {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown workflow kind %q", raw)
}

// RequiresLocation reports whether runs of this kind are scoped to a location.
func (k WorkflowKind) RequiresLocation() bool {
	return k == KindLocationResearch
}

// ResourceKind names a persisted collection the tracker can watch.
type ResourceKind string

const (
	ResourceLocations      ResourceKind = "locations"
	ResourceAccommodations ResourceKind = "accommodations"
	ResourceActivities     ResourceKind = "activities"
	ResourceTransports     ResourceKind = "transports"
	ResourcePreferences    ResourceKind = "preferences"
)

// ResourceRef points at one watched collection.
type ResourceRef struct {
	Kind       ResourceKind `json:"kind"`
	PlanID     string       `json:"plan_id,omitempty"`
	LocationID string       `json:"location_id,omitempty"`
	UserID     string       `json:"user_id,omitempty"`
}

func (r ResourceRef) String() string {
	switch r.Kind {
	case ResourceLocations:
		return fmt.Sprintf("%s(plan=%s)", r.Kind, r.PlanID)
	case ResourcePreferences:
		return fmt.Sprintf("%s(user=%s)", r.Kind, r.UserID)
	default:
		return fmt.Sprintf("%s(location=%s)", r.Kind, r.LocationID)
	}
}

// WatchedResources returns the collections a workflow writes into.
func WatchedResources(kind WorkflowKind, planID, locationID, userID string) []ResourceRef {
	switch kind {
	case KindLocationSuggestion:
		return []ResourceRef{{Kind: ResourceLocations, PlanID: planID}}
	case KindLocationResearch:
		return []ResourceRef{
			{Kind: ResourceAccommodations, PlanID: planID, LocationID: locationID},
			{Kind: ResourceActivities, PlanID: planID, LocationID: locationID},
			{Kind: ResourceTransports, PlanID: planID, LocationID: locationID},
		}
	case KindPreferenceSummary:
		return []ResourceRef{{Kind: ResourcePreferences, UserID: userID}}
	default:
		return nil
	}
}

// Shape is one observation of a watched resource.
type Shape struct {
	Count         int       `json:"count"`
	IDs           []string  `json:"ids,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at,omitempty"`
}

// IsEmpty reports whether the observation contains no rows.
func (s Shape) IsEmpty() bool {
	return s.Count == 0
}

// MergeShapes combines several observations into one composite shape. IDs are
// prefixed with their resource kind so equal ids in different collections stay
// distinct.
func MergeShapes(parts map[ResourceKind]Shape) Shape {
	var merged Shape
	for kind, part := range parts {
		merged.Count += part.Count
		for _, id := range part.IDs {
			merged.IDs = append(merged.IDs, string(kind)+":"+id)
		}
		if part.LastUpdatedAt.After(merged.LastUpdatedAt) {
			merged.LastUpdatedAt = part.LastUpdatedAt
		}
	}
	return merged
}

// PromptContext carries the plan details a workflow prompt is rendered from.
type PromptContext struct {
	PlanID      string            `json:"plan_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	LocationID  string            `json:"location_id,omitempty"`
	Destination string            `json:"destination,omitempty"`
	StartDate   string            `json:"start_date,omitempty"`
	EndDate     string            `json:"end_date,omitempty"`
	Travelers   int               `json:"travelers,omitempty"`
	Budget      string            `json:"budget,omitempty"`
	Preferences []string          `json:"preferences,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// RunStatus is the lifecycle state of a plan workflow run.
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunSubmitting RunStatus = "submitting"
	RunPolling    RunStatus = "polling"
	RunConverged  RunStatus = "converged"
	RunFailed     RunStatus = "failed"
	RunTimedOut   RunStatus = "timed_out"
	RunSuperseded RunStatus = "superseded"
	RunAborted    RunStatus = "aborted"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunConverged, RunFailed, RunTimedOut, RunSuperseded, RunAborted:
		return true
	default:
		return false
	}
}

// RunRecord is the audit row written when a run reaches a terminal state.
type RunRecord struct {
	RunID          string       `json:"run_id"`
	PlanID         string       `json:"plan_id"`
	Kind           WorkflowKind `json:"kind"`
	LocationID     string       `json:"location_id,omitempty"`
	UserID         string       `json:"user_id,omitempty"`
	TaskID         string       `json:"task_id"`
	Status         RunStatus    `json:"status"`
	Signature      string       `json:"signature,omitempty"`
	UnchangedCount int          `json:"unchanged_count"`
	ShapeCount     int          `json:"shape_count"`
	Ticks          int          `json:"ticks"`
	Error          string       `json:"error,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// RunFilter narrows run history queries. Zero values match everything.
type RunFilter struct {
	PlanID string
	Kind   WorkflowKind
	Status RunStatus
	Limit  int
}

// Matches reports whether the record satisfies the filter.
func (f RunFilter) Matches(rec RunRecord) bool {
	if f.PlanID != "" && rec.PlanID != f.PlanID {
		return false
	}
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	return true
}
