package id

import "context"

type contextKey string

const (
	planKey contextKey = "wanderlust_plan_id"
	runKey  contextKey = "wanderlust_run_id"
	userKey contextKey = "wanderlust_user_id"
	logKey  contextKey = "wanderlust_log_id"
)

// IDs captures the identifiers propagated across request and run boundaries.
type IDs struct {
	PlanID string
	RunID  string
	UserID string
	LogID  string
}

// WithPlanID stores the trip plan identifier on the context.
func WithPlanID(ctx context.Context, planID string) context.Context {
	if planID == "" {
		return ctx
	}
	return context.WithValue(ctx, planKey, planID)
}

// WithRunID stores the workflow run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// WithUserID stores the user identifier on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// WithLogID stores the log correlation identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// PlanIDFromContext returns the plan identifier stored on the context.
func PlanIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, planKey)
}

// RunIDFromContext returns the run identifier stored on the context.
func RunIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, runKey)
}

// UserIDFromContext returns the user identifier stored on the context.
func UserIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userKey)
}

// LogIDFromContext returns the log identifier stored on the context.
func LogIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, logKey)
}

// IDsFromContext collects every identifier present on the context.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		PlanID: PlanIDFromContext(ctx),
		RunID:  RunIDFromContext(ctx),
		UserID: UserIDFromContext(ctx),
		LogID:  LogIDFromContext(ctx),
	}
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
