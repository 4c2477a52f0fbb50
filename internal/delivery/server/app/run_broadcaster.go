// Package app holds server-side services that sit between the coordinator
// and the HTTP layer.
package app

import (
	"sync"
	"sync/atomic"

	"wanderlust/internal/app/coordinator"
	"wanderlust/internal/delivery/server/ports"
	"wanderlust/internal/shared/logging"
)

var (
	_ coordinator.RunListener = (*RunBroadcaster)(nil)
	_ ports.RunBroadcaster    = (*RunBroadcaster)(nil)
)

// RunBroadcaster forwards coordinator updates to stream clients keyed by run
// slot. Sends never block; a client whose buffer is full misses the update.
type RunBroadcaster struct {
	mu      sync.RWMutex
	clients map[coordinator.Key]map[chan coordinator.RunView]struct{}
	dropped atomic.Int64
	logger  logging.Logger
}

// NewRunBroadcaster returns an empty broadcaster.
func NewRunBroadcaster() *RunBroadcaster {
	return &RunBroadcaster{
		clients: make(map[coordinator.Key]map[chan coordinator.RunView]struct{}),
		logger:  logging.NewComponentLogger("RunBroadcaster"),
	}
}

// RegisterClient subscribes ch to key.
func (b *RunBroadcaster) RegisterClient(key coordinator.Key, ch chan coordinator.RunView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.clients[key]
	if set == nil {
		set = make(map[chan coordinator.RunView]struct{})
		b.clients[key] = set
	}
	set[ch] = struct{}{}
	b.logger.Debug("Client registered for %s (%d total)", key, len(set))
}

// UnregisterClient removes ch. The channel is not closed; the caller owns it.
func (b *RunBroadcaster) UnregisterClient(key coordinator.Key, ch chan coordinator.RunView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.clients[key]
	delete(set, ch)
	if len(set) == 0 {
		delete(b.clients, key)
	}
}

// ClientCount returns the number of clients following key.
func (b *RunBroadcaster) ClientCount(key coordinator.Key) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[key])
}

// Dropped returns how many updates were skipped for slow clients.
func (b *RunBroadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// OnRunUpdate implements coordinator.RunListener.
func (b *RunBroadcaster) OnRunUpdate(view coordinator.RunView) {
	key := view.Key()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients[key] {
		select {
		case ch <- view:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Client buffer full for %s, dropping %s update", key, view.Status)
		}
	}
}
