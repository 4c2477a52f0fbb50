package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTaskState(t *testing.T) {
	cases := map[string]TaskState{
		"pending":   TaskPending,
		"RUNNING":   TaskPending,
		"queued":    TaskPending,
		"completed": TaskCompleted,
		"succeeded": TaskCompleted,
		" done ":    TaskCompleted,
		"failed":    TaskFailed,
		"error":     TaskFailed,
		"cancelled": TaskFailed,
		"mystery":   TaskPending,
		"":          TaskPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeTaskState(raw), "raw=%q", raw)
	}
}

func TestParseWorkflowKind(t *testing.T) {
	kind, err := ParseWorkflowKind(" Location-Research ")
	require.NoError(t, err)
	assert.Equal(t, KindLocationResearch, kind)
	assert.True(t, kind.RequiresLocation())

	_, err = ParseWorkflowKind("hotel-booking")
	require.Error(t, err)
}

func TestWatchedResources(t *testing.T) {
	refs := WatchedResources(KindLocationResearch, "plan-1", "loc-1", "user-1")
	require.Len(t, refs, 3)
	for _, ref := range refs {
		assert.Equal(t, "loc-1", ref.LocationID)
	}

	refs = WatchedResources(KindPreferenceSummary, "plan-1", "", "user-1")
	require.Len(t, refs, 1)
	assert.Equal(t, ResourcePreferences, refs[0].Kind)
	assert.Equal(t, "preferences(user=user-1)", refs[0].String())

	assert.Nil(t, WatchedResources("unknown", "p", "", ""))
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPolling.IsTerminal())
	assert.False(t, RunSubmitting.IsTerminal())
	for _, s := range []RunStatus{RunConverged, RunFailed, RunTimedOut, RunSuperseded, RunAborted} {
		assert.True(t, s.IsTerminal(), string(s))
	}
}

func TestRunFilterMatches(t *testing.T) {
	rec := RunRecord{PlanID: "p1", Kind: KindLocationSuggestion, Status: RunConverged}
	assert.True(t, RunFilter{}.Matches(rec))
	assert.True(t, RunFilter{PlanID: "p1", Status: RunConverged}.Matches(rec))
	assert.False(t, RunFilter{Kind: KindLocationResearch}.Matches(rec))
}
