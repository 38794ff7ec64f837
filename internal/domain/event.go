package domain

import "time"

// LifecycleEventType names a position lifecycle transition worth reporting.
type LifecycleEventType string

const (
	EventOpened       LifecycleEventType = "opened"
	EventRebalanced   LifecycleEventType = "rebalanced"
	EventClosed       LifecycleEventType = "closed"
	EventInconsistent LifecycleEventType = "inconsistent"
	// la venue rechazó el cierre; la posición sigue activa y se reintenta
	EventCloseFailed LifecycleEventType = "close_failed"
)

// LifecycleEvent is emitted to notifiers after the transition is durably stored
// (or, for EventInconsistent, after it failed to be).
type LifecycleEvent struct {
	Type     LifecycleEventType `json:"type"`
	At       time.Time          `json:"at"`
	Position Position           `json:"position"`
	Detail   string             `json:"detail,omitempty"`
}
