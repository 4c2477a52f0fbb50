package id

import (
	"context"
	"strings"
	"testing"
)

func TestNewRunIDHasPrefixAndIsUnique(t *testing.T) {
	first := NewRunID()
	second := NewRunID()
	if !strings.HasPrefix(first, "run-") {
		t.Fatalf("expected run- prefix, got %q", first)
	}
	if first == second {
		t.Fatalf("expected unique identifiers, got %q twice", first)
	}
}

func TestUUIDv7Strategy(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	logID := NewLogID()
	body := strings.TrimPrefix(logID, "log-")
	if len(body) != 36 {
		t.Fatalf("expected uuid body, got %q", logID)
	}
}

func TestIDsFromContext(t *testing.T) {
	ctx := WithPlanID(context.Background(), "plan-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithUserID(ctx, "")
	ctx = WithLogID(ctx, "log-1")

	ids := IDsFromContext(ctx)
	if ids.PlanID != "plan-1" || ids.RunID != "run-1" || ids.LogID != "log-1" {
		t.Fatalf("unexpected ids: %+v", ids)
	}
	if ids.UserID != "" {
		t.Fatalf("expected empty user id to be ignored, got %q", ids.UserID)
	}
}
