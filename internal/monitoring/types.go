// Package monitoring - types.go defines shared event types.
//
// DESIGN: One Event shape flows to every sink: the SQLite audit log,
// the live WebSocket hub, and structured logs. Defined here ONCE so
// the gateway and its sinks agree on it.
package monitoring

import "time"

// EventKind classifies an auditable gateway event.
type EventKind string

const (
	EventGatewayStarted      EventKind = "gateway_started"
	EventGatewayStopped      EventKind = "gateway_stopped"
	EventServiceRegistered   EventKind = "service_registered"
	EventServiceUnregistered EventKind = "service_unregistered"
	EventBreakerTransition   EventKind = "breaker_transition"
	EventHealthChange        EventKind = "health_change"
	EventCacheCleared        EventKind = "cache_cleared"
)

// Event is a single auditable occurrence inside the gateway.
// Service is empty for gateway-wide events.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    EventKind `json:"kind"`
	Service string    `json:"service,omitempty"`
	Detail  string    `json:"detail"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind EventKind, service, detail string) Event {
	return Event{
		Time:    time.Now(),
		Kind:    kind,
		Service: service,
		Detail:  detail,
	}
}
