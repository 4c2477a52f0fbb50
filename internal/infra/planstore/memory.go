// Package planstore reads the collections plan workflows write into and keeps
// the audit history of finished runs, in memory or in Postgres.
package planstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wanderlust/internal/domain/tracker"
)

var (
	_ tracker.ShapeFetcher = (*MemoryStore)(nil)
	_ tracker.RunRecorder  = (*MemoryRunRecorder)(nil)
)

type memoryItem struct {
	updatedAt time.Time
}

// MemoryStore is an in-process plan store used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[tracker.ResourceRef]map[string]memoryItem
	clock func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[tracker.ResourceRef]map[string]memoryItem),
		clock: time.Now,
	}
}

// scope drops the fields that do not identify a collection of ref.Kind.
func scope(ref tracker.ResourceRef) (tracker.ResourceRef, error) {
	switch ref.Kind {
	case tracker.ResourceLocations:
		if ref.PlanID == "" {
			return ref, fmt.Errorf("%s: plan id is required", ref.Kind)
		}
		return tracker.ResourceRef{Kind: ref.Kind, PlanID: ref.PlanID}, nil
	case tracker.ResourceAccommodations, tracker.ResourceActivities, tracker.ResourceTransports:
		if ref.LocationID == "" {
			return ref, fmt.Errorf("%s: location id is required", ref.Kind)
		}
		return tracker.ResourceRef{Kind: ref.Kind, LocationID: ref.LocationID}, nil
	case tracker.ResourcePreferences:
		if ref.UserID == "" {
			return ref, fmt.Errorf("%s: user id is required", ref.Kind)
		}
		return tracker.ResourceRef{Kind: ref.Kind, UserID: ref.UserID}, nil
	default:
		return ref, fmt.Errorf("unknown resource kind %q", ref.Kind)
	}
}

// Put inserts or touches an item of the collection ref points at.
func (s *MemoryStore) Put(ref tracker.ResourceRef, itemID string) error {
	key, err := scope(ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.items[key]
	if bucket == nil {
		bucket = make(map[string]memoryItem)
		s.items[key] = bucket
	}
	bucket[itemID] = memoryItem{updatedAt: s.clock()}
	return nil
}

// Remove deletes an item.
func (s *MemoryStore) Remove(ref tracker.ResourceRef, itemID string) error {
	key, err := scope(ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[key], itemID)
	return nil
}

// FetchShape observes a collection.
func (s *MemoryStore) FetchShape(ctx context.Context, ref tracker.ResourceRef) (tracker.Shape, error) {
	if err := ctx.Err(); err != nil {
		return tracker.Shape{}, err
	}
	key, err := scope(ref)
	if err != nil {
		return tracker.Shape{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.items[key]
	shape := tracker.Shape{Count: len(bucket), IDs: make([]string, 0, len(bucket))}
	for itemID, item := range bucket {
		shape.IDs = append(shape.IDs, itemID)
		if item.updatedAt.After(shape.LastUpdatedAt) {
			shape.LastUpdatedAt = item.updatedAt
		}
	}
	sort.Strings(shape.IDs)
	return shape, nil
}

// MemoryRunRecorder keeps run history in memory, newest first, bounded by limit.
type MemoryRunRecorder struct {
	mu      sync.RWMutex
	limit   int
	records []tracker.RunRecord
}

// NewMemoryRunRecorder keeps at most limit records; zero means 1000.
func NewMemoryRunRecorder(limit int) *MemoryRunRecorder {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryRunRecorder{limit: limit}
}

// RecordRun stores a terminal run, replacing an earlier record with the same id.
func (r *MemoryRunRecorder) RecordRun(_ context.Context, rec tracker.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("record run: run id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].RunID == rec.RunID {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	r.records = append([]tracker.RunRecord{rec}, r.records...)
	if len(r.records) > r.limit {
		r.records = r.records[:r.limit]
	}
	return nil
}

// ListRuns returns matching records, newest first.
func (r *MemoryRunRecorder) ListRuns(_ context.Context, filter tracker.RunFilter) ([]tracker.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tracker.RunRecord, 0)
	for _, rec := range r.records {
		if !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
