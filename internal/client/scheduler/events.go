package scheduler

import "github.com/dmitrijs2005/printrelay/internal/protocol"

type EventKind string

const (
	// EventQueued: the job was accepted and waits as pending.
	EventQueued EventKind = "queued"
	// EventStatus: the job moved to printing, completed or failed.
	EventStatus EventKind = "status"
	// EventDegraded: no preferred printer qualified and the system default
	// was used instead.
	EventDegraded EventKind = "degraded"
	// EventCancelled: the job was removed from its queue.
	EventCancelled EventKind = "cancelled"
)

// Event is emitted to the Observer. Terminal statuses are emitted exactly
// once per job.
type Event struct {
	Kind    EventKind
	JobID   string
	Printer string
	Status  protocol.JobStatus
	Message string
}

// Observer receives scheduler events. It is called from scheduler
// goroutines and must not block for long.
type Observer func(Event)
