package domain

import (
	"context"
	"time"
)

// Job represents a unit of work held by the broker.
// It is immutable once created; ID is assigned by the broker in submission order.
type Job struct {
	ID      uint64 `json:"id"`
	Payload string `json:"payload"`
}

// Op identifies the kind of a journal record.
type Op string

const (
	// OpAdd records the creation of a job.
	OpAdd Op = "ADD"
	// OpDone records the acknowledgment of a job.
	OpDone Op = "DONE"
)

// Record is a single state-changing event in the journal.
// Payload is only meaningful for OpAdd.
type Record struct {
	Op      Op
	ID      uint64
	Payload string
}

// Journal defines the contract for the broker's durability log.
// It decouples the queue manager from the storage backend (file, Pebble, Redis, Postgres).
type Journal interface {
	// Append writes rec and makes it durable before returning.
	Append(ctx context.Context, rec Record) error

	// Replay calls fn for every record in write order.
	// It stops at the first error returned by fn.
	Replay(ctx context.Context, fn func(Record) error) error

	// Close releases the underlying storage.
	Close() error
}

// EventKind names a job state transition.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventLeased    EventKind = "leased"
	EventAcked     EventKind = "acked"
	EventFailed    EventKind = "failed"
	EventReleased  EventKind = "released"
)

// Event describes a transition observed by the queue manager.
type Event struct {
	Kind   EventKind `json:"kind"`
	JobID  uint64    `json:"job_id"`
	ConnID string    `json:"conn_id,omitempty"`
	At     time.Time `json:"at"`
}

// Observer receives queue events. Implementations must not block.
type Observer interface {
	Notify(ev Event)
}
