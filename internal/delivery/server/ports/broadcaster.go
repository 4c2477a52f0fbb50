package ports

import "wanderlust/internal/app/coordinator"

// RunBroadcaster manages stream clients and fans run updates out to them.
type RunBroadcaster interface {
	// RegisterClient subscribes ch to updates of the run slot key.
	RegisterClient(key coordinator.Key, ch chan coordinator.RunView)

	// UnregisterClient removes ch from key.
	UnregisterClient(key coordinator.Key, ch chan coordinator.RunView)

	// ClientCount returns how many clients follow key.
	ClientCount(key coordinator.Key) int
}
