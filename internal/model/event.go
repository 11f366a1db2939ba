package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventState     EventKind = "state"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailure   EventKind = "failure"
)

// Event describes a change on a machine. Job is nil when no job was involved,
// for example on a reset from Error.
type Event struct {
	Kind      EventKind `json:"kind"`
	MachineID uuid.UUID `json:"machine_id"`
	State     State     `json:"state"`
	Light     Color     `json:"light"`
	Job       *Job      `json:"job,omitempty"`
	Time      time.Time `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type NotifyCloser interface {
	Notifier
	Close() error
}

// NotifierFunc adapts an ordinary function to a Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}
