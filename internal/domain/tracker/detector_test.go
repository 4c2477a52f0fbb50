package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveItems() Shape {
	return Shape{Count: 5, IDs: []string{"a", "b", "c", "d", "e"}}
}

func TestDetectorConvergesExactlyWhenThresholdReached(t *testing.T) {
	d := NewDetector()
	shape := fiveItems()

	var states []ConvergenceState
	for i := 0; i < 6; i++ {
		states = append(states, d.Observe(shape))
	}

	for i, st := range states {
		assert.Equal(t, i, st.UnchangedCount, "observation %d", i)
		if i < DefaultThreshold {
			assert.False(t, st.Converged, "observation %d converged early", i)
		} else {
			assert.True(t, st.Converged, "observation %d", i)
		}
	}
}

func TestDetectorNeverConvergesWhenShapeChangesEveryTick(t *testing.T) {
	d := NewDetector()
	for i := 0; i < 50; i++ {
		st := d.Observe(Shape{Count: i + 1, IDs: []string{fmt.Sprintf("id-%d", i)}})
		require.False(t, st.Converged)
		require.Zero(t, st.UnchangedCount)
	}
}

func TestDetectorEmptyResourceNeverConverges(t *testing.T) {
	d := NewDetector()
	for i := 0; i < 20; i++ {
		st := d.Observe(Shape{})
		require.False(t, st.Converged)
	}
	assert.Equal(t, 19, d.State().UnchangedCount)

	st := d.Observe(fiveItems())
	assert.Zero(t, st.UnchangedCount)
	assert.False(t, st.Converged)
}

func TestDetectorUnchangedCountOnlyResetsOnChange(t *testing.T) {
	d := NewDetector()
	d.Observe(fiveItems())
	d.Observe(fiveItems())
	st := d.ObserveFailure()
	assert.Equal(t, 1, st.UnchangedCount)
	assert.Equal(t, 1, st.FailedFetches)

	st = d.Observe(fiveItems())
	assert.Equal(t, 2, st.UnchangedCount)

	st = d.Observe(Shape{Count: 6, IDs: []string{"a", "b", "c", "d", "e", "f"}})
	assert.Zero(t, st.UnchangedCount)
}

func TestDetectorCustomThresholdAndEmptiness(t *testing.T) {
	d := NewDetector(WithThreshold(1), WithEmptiness(func(Shape) bool { return false }))
	assert.False(t, d.Observe(Shape{}).Converged)
	assert.True(t, d.Observe(Shape{}).Converged)

	ignored := NewDetector(WithThreshold(0))
	assert.Equal(t, DefaultThreshold, ignored.Threshold())
}

func TestDetectorRelaxTo(t *testing.T) {
	d := NewDetector()
	d.Observe(fiveItems())
	d.Observe(fiveItems())
	assert.False(t, d.State().Converged)

	st := d.RelaxTo(1)
	assert.True(t, st.Converged)
	assert.Equal(t, 1, d.Threshold())

	d.RelaxTo(5)
	assert.Equal(t, 1, d.Threshold())
}

func TestSignatureIsOrderInsensitive(t *testing.T) {
	a := Shape{Count: 3, IDs: []string{"x", "y", "z"}}
	b := Shape{Count: 3, IDs: []string{"z", "y", "x"}}
	assert.Equal(t, Signature(a), Signature(b))
	assert.Equal(t, []string{"z", "y", "x"}, b.IDs)
}

func TestSignatureDistinguishesShapes(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := Shape{Count: 2, IDs: []string{"a", "b"}, LastUpdatedAt: ts}

	assert.NotEqual(t, Signature(base), Signature(Shape{Count: 3, IDs: []string{"a", "b"}, LastUpdatedAt: ts}))
	assert.NotEqual(t, Signature(base), Signature(Shape{Count: 2, IDs: []string{"a", "c"}, LastUpdatedAt: ts}))
	assert.NotEqual(t, Signature(base), Signature(Shape{Count: 2, IDs: []string{"a", "b"}, LastUpdatedAt: ts.Add(time.Second)}))
	assert.Equal(t, "0||0", Signature(Shape{}))
}

func TestMergeShapes(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	merged := MergeShapes(map[ResourceKind]Shape{
		ResourceActivities:     {Count: 1, IDs: []string{"1"}, LastUpdatedAt: early},
		ResourceAccommodations: {Count: 2, IDs: []string{"1", "2"}, LastUpdatedAt: late},
		ResourceTransports:     {},
	})

	assert.Equal(t, 3, merged.Count)
	assert.ElementsMatch(t, []string{"activities:1", "accommodations:1", "accommodations:2"}, merged.IDs)
	assert.Equal(t, late, merged.LastUpdatedAt)
}
