package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for runs, events and log lines.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewRunID generates a workflow run identifier.
func NewRunID() string {
	return defaultGenerator.newIdentifier("run")
}

// NewEventID generates a notification event identifier.
func NewEventID() string {
	return defaultGenerator.newIdentifier("evt")
}

// NewLogID generates a log correlation identifier.
func NewLogID() string {
	return defaultGenerator.newIdentifier("log")
}

// NewKSUID exposes raw KSUID generation for callers that need unprefixed identifiers.
func NewKSUID() string {
	return ksuid.New().String()
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		if v7, err := uuid.NewV7(); err == nil {
			body = v7.String()
			break
		}
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}
	return fmt.Sprintf("%s-%s", prefix, body)
}
