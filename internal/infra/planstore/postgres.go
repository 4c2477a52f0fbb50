package planstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wanderlust/internal/domain/tracker"
	"wanderlust/internal/shared/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ tracker.ShapeFetcher = (*PostgresStore)(nil)

// NewPool opens a pgx pool and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore reads plan collections from Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("PlanStore"),
	}
}

// EnsureSchema creates the plan tables if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("plan store not initialized")
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS locations (
    id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_locations_plan ON locations (plan_id);`,
		`CREATE TABLE IF NOT EXISTS accommodations (
    id TEXT PRIMARY KEY,
    location_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    price_range TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_accommodations_location ON accommodations (location_id);`,
		`CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    location_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    duration TEXT NOT NULL DEFAULT '',
    price TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_location ON activities (location_id);`,
		`CREATE TABLE IF NOT EXISTS transports (
    id TEXT PRIMARY KEY,
    location_id TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT '',
    operator TEXT NOT NULL DEFAULT '',
    cost TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_transports_location ON transports (location_id);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
    user_id TEXT PRIMARY KEY,
    answers JSONB,
    summary TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure plan schema: %w", err)
		}
	}
	return nil
}

// collectionQueries holds one fixed query per collection; the table name is
// never taken from input.
var collectionQueries = map[tracker.ResourceKind]string{
	tracker.ResourceLocations:      `SELECT id, updated_at FROM locations WHERE plan_id = $1`,
	tracker.ResourceAccommodations: `SELECT id, updated_at FROM accommodations WHERE location_id = $1`,
	tracker.ResourceActivities:     `SELECT id, updated_at FROM activities WHERE location_id = $1`,
	tracker.ResourceTransports:     `SELECT id, updated_at FROM transports WHERE location_id = $1`,
}

// FetchShape observes one collection.
func (s *PostgresStore) FetchShape(ctx context.Context, ref tracker.ResourceRef) (tracker.Shape, error) {
	if s == nil || s.pool == nil {
		return tracker.Shape{}, fmt.Errorf("plan store not initialized")
	}
	key, err := scope(ref)
	if err != nil {
		return tracker.Shape{}, err
	}
	if key.Kind == tracker.ResourcePreferences {
		return s.fetchPreference(ctx, key.UserID)
	}

	arg := key.LocationID
	if key.Kind == tracker.ResourceLocations {
		arg = key.PlanID
	}
	rows, err := s.pool.Query(ctx, collectionQueries[key.Kind], arg)
	if err != nil {
		return tracker.Shape{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer rows.Close()

	var shape tracker.Shape
	for rows.Next() {
		var (
			itemID    string
			updatedAt time.Time
		)
		if err := rows.Scan(&itemID, &updatedAt); err != nil {
			return tracker.Shape{}, fmt.Errorf("scan %s: %w", key, err)
		}
		shape.IDs = append(shape.IDs, itemID)
		if updatedAt.After(shape.LastUpdatedAt) {
			shape.LastUpdatedAt = updatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return tracker.Shape{}, fmt.Errorf("iterate %s: %w", key, err)
	}
	shape.Count = len(shape.IDs)
	return shape, nil
}

// fetchPreference treats a non-empty summary as a single item.
func (s *PostgresStore) fetchPreference(ctx context.Context, userID string) (tracker.Shape, error) {
	var (
		summary   string
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT summary, updated_at FROM user_preferences WHERE user_id = $1`, userID).
		Scan(&summary, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Shape{}, nil
	}
	if err != nil {
		return tracker.Shape{}, fmt.Errorf("fetch preferences(user=%s): %w", userID, err)
	}
	if summary == "" {
		return tracker.Shape{}, nil
	}
	return tracker.Shape{Count: 1, IDs: []string{userID}, LastUpdatedAt: updatedAt}, nil
}

// Ping checks connectivity for health probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("plan store not initialized")
	}
	return s.pool.Ping(ctx)
}
