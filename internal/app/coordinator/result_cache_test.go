package coordinator

import (
	"testing"
	"time"

	"wanderlust/internal/domain/tracker"

	"github.com/stretchr/testify/assert"
)

func TestResultCacheKeyedByRunSlot(t *testing.T) {
	cache := NewResultCache(2, time.Minute)
	a := RunView{RunID: "run-a", PlanID: "p1", Kind: tracker.KindLocationSuggestion, Status: tracker.RunConverged}
	b := RunView{RunID: "run-b", PlanID: "p1", Kind: tracker.KindLocationResearch, LocationID: "loc", Status: tracker.RunFailed}
	c := RunView{RunID: "run-c", PlanID: "p2", Kind: tracker.KindLocationSuggestion, Status: tracker.RunTimedOut}

	cache.Put(a)
	cache.Put(b)
	got, ok := cache.Get(b.Key())
	assert.True(t, ok)
	assert.Equal(t, "run-b", got.RunID)

	cache.Put(c)
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get(a.Key())
	assert.False(t, ok)

	var nilCache *ResultCache
	nilCache.Put(a)
	_, ok = nilCache.Get(a.Key())
	assert.False(t, ok)
}

func TestConfigNormalization(t *testing.T) {
	cfg := Config{CompletedThreshold: 9}.normalized()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, tracker.DefaultThreshold, cfg.Threshold)
	assert.Zero(t, cfg.CompletedThreshold)
	assert.Equal(t, DefaultMaxDuration, cfg.MaxDuration)

	b := DefaultConfig().budgetFor(tracker.KindLocationResearch)
	assert.Equal(t, DefaultResearchMaxDuration, b.maxDuration)
	assert.True(t, b.exhausted(0, DefaultMaxTicks))
	assert.False(t, b.exhausted(time.Minute, 1))
}
