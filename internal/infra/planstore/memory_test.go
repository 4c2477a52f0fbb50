package planstore

import (
	"context"
	"testing"
	"time"

	"wanderlust/internal/domain/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreShapeTracksWrites(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.clock = func() time.Time { return now }

	ref := tracker.ResourceRef{Kind: tracker.ResourceLocations, PlanID: "plan-1"}
	shape, err := store.FetchShape(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, shape.IsEmpty())

	require.NoError(t, store.Put(ref, "loc-b"))
	now = base.Add(time.Minute)
	require.NoError(t, store.Put(ref, "loc-a"))

	shape, err = store.FetchShape(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 2, shape.Count)
	assert.Equal(t, []string{"loc-a", "loc-b"}, shape.IDs)
	assert.Equal(t, base.Add(time.Minute), shape.LastUpdatedAt)

	require.NoError(t, store.Remove(ref, "loc-a"))
	shape, err = store.FetchShape(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 1, shape.Count)
}

func TestMemoryStoreScopesByOwner(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(tracker.ResourceRef{Kind: tracker.ResourceActivities, PlanID: "p", LocationID: "l1"}, "a1"))

	// Plan id is not part of a location-scoped collection key.
	shape, err := store.FetchShape(context.Background(), tracker.ResourceRef{Kind: tracker.ResourceActivities, LocationID: "l1"})
	require.NoError(t, err)
	assert.Equal(t, 1, shape.Count)

	shape, err = store.FetchShape(context.Background(), tracker.ResourceRef{Kind: tracker.ResourceActivities, LocationID: "l2"})
	require.NoError(t, err)
	assert.Zero(t, shape.Count)
}

func TestMemoryStoreRejectsIncompleteRefs(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.FetchShape(context.Background(), tracker.ResourceRef{Kind: tracker.ResourceTransports})
	require.Error(t, err)
	require.Error(t, store.Put(tracker.ResourceRef{Kind: tracker.ResourcePreferences}, "x"))
	_, err = store.FetchShape(context.Background(), tracker.ResourceRef{Kind: "nope", PlanID: "p"})
	require.Error(t, err)
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().FetchShape(ctx, tracker.ResourceRef{Kind: tracker.ResourceLocations, PlanID: "p"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryRunRecorderNewestFirstWithFilter(t *testing.T) {
	rec := NewMemoryRunRecorder(3)
	ctx := context.Background()
	for _, r := range []tracker.RunRecord{
		{RunID: "r1", PlanID: "p1", Kind: tracker.KindLocationSuggestion, Status: tracker.RunConverged},
		{RunID: "r2", PlanID: "p2", Kind: tracker.KindLocationSuggestion, Status: tracker.RunTimedOut},
		{RunID: "r3", PlanID: "p1", Kind: tracker.KindLocationResearch, Status: tracker.RunFailed},
	} {
		require.NoError(t, rec.RecordRun(ctx, r))
	}

	all, err := rec.ListRuns(ctx, tracker.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].RunID)

	plan1, err := rec.ListRuns(ctx, tracker.RunFilter{PlanID: "p1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, plan1, 1)
	assert.Equal(t, "r3", plan1[0].RunID)

	require.NoError(t, rec.RecordRun(ctx, tracker.RunRecord{RunID: "r4", PlanID: "p3"}))
	all, err = rec.ListRuns(ctx, tracker.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r4", all[0].RunID)
	assert.Equal(t, "r2", all[2].RunID)

	require.Error(t, rec.RecordRun(ctx, tracker.RunRecord{}))
}
