package qrate

import (
	"time"

	"github.com/glynnbird/qrate/pkg/eventbus"
)

// Event types published with WithEventBus. Event.Source is the queue name
// and Event.Data a TaskEvent.
const (
	EventQueueSaturated   = "queue.saturated"
	EventQueueUnsaturated = "queue.unsaturated"
	EventQueueEmpty       = "queue.empty"
	EventQueueDrain       = "queue.drain"
	EventQueueKilled      = "queue.killed"
	EventTaskStarted      = "task.started"
	EventTaskFinished     = "task.finished"
	EventTaskFailed       = "task.failed"
)

// TaskEvent is the payload of every published event. Task fields are zero
// for queue-level events.
type TaskEvent struct {
	Queue   string
	TaskID  uint64
	Data    any
	Err     error
	Running int
	Pending int
	Elapsed time.Duration
}

func (q *Queue[T]) publish(typ string, ev TaskEvent) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Source: q.name, Data: ev})
}
