// Copyright 2025 James Ross

// Package eventbus implements the external event broker interface (§6):
// structured records with {event_type, timestamp_utc, worker_id,
// sequence, correlation_id?}, published to NATS JetStream and durably
// staged first in a local SQLite outbox so a process restart cannot drop
// an event that was already committed to, grounded on the teacher's
// internal/event-hooks/nats.go publisher and the outbox pattern exercised
// by internal/exactly-once-patterns/outbox_storage_test.go.
package eventbus

import "time"

// Event is one record published to the bus.
type Event struct {
	EventType     string                 `json:"event_type"`
	TimestampUTC  time.Time              `json:"timestamp_utc"`
	WorkerID      string                 `json:"worker_id"`
	Sequence      uint64                 `json:"sequence"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}
