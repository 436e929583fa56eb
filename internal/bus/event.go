package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "channel." for push-channel and connectivity
// events, "chat." for conversation-level updates, "message." for
// message-level updates.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
