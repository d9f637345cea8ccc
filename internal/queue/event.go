// Package queue defines message payloads exchanged over the message
// broker and the background consumer that drains them.
package queue

// NotificationEvent is published for every user-facing lifecycle
// transition (request received/approved/declined/expired, date proposed
// or confirmed, deposit released).  It carries enough information for
// downstream delivery channels (email, push) to act without querying the
// primary database.
type NotificationEvent struct {
    UserID    uint64         `json:"user_id"`
    EventType string         `json:"event_type"`
    Payload   map[string]any `json:"payload,omitempty"`
    EmittedAt string         `json:"emitted_at"`
}
