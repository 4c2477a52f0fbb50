// Package notification delivers workflow run events to external sinks.
package notification

import (
	"context"
	"strings"
	"time"
)

// Priority orders notifications for channel filtering.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Notification is one event addressed to channels.
type Notification struct {
	ID        string
	Event     string
	UserID    string
	Title     string
	Body      string
	Priority  Priority
	Metadata  map[string]string
	CreatedAt time.Time
}

// Channel delivers notifications to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	Supports(p Priority) bool
}

// DeliveryStatus is the outcome of one channel delivery.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusSkipped   DeliveryStatus = "skipped"
)

// DeliveryResult records one delivery attempt.
type DeliveryResult struct {
	NotificationID string         `json:"notification_id"`
	Event          string         `json:"event"`
	UserID         string         `json:"user_id,omitempty"`
	Channel        string         `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	At             time.Time      `json:"at"`
}

// PriorityForEvent maps a run event name to its priority.
func PriorityForEvent(event string) Priority {
	switch {
	case strings.HasSuffix(event, ".failed"), strings.HasSuffix(event, ".timed_out"):
		return PriorityHigh
	case strings.HasSuffix(event, ".converged"):
		return PriorityNormal
	default:
		return PriorityLow
	}
}
