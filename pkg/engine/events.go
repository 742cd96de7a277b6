package engine

import (
	"fmt"
	"time"
)

// EventType is the kind of change reported on Engine.Events.
type EventType string

const (
	EventState    EventType = "STATE"
	EventConflict EventType = "CONFLICT"
	EventRemote   EventType = "REMOTE"
	EventResolved EventType = "RESOLVED"
	EventDeleted  EventType = "DELETED"
	// EventEditing reports another session editing an open note.
	EventEditing  EventType = "EDITING"
)

// Event reports a change to a note's sync state.
type Event struct {
	Type      EventType
	NoteID    string
	State     State
	Err       string
	// Session is the other session of an EventEditing.
	Session   string
	Timestamp int64 // Unix milliseconds
}

func (e Event) String() string {
	if e.Session != "" {
		return fmt.Sprintf("%s %s (%s) by session %s", e.Type, e.NoteID, e.State, e.Session)
	}
	if e.Err != "" {
		return fmt.Sprintf("%s %s (%s): %s", e.Type, e.NoteID, e.State, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Type, e.NoteID, e.State)
}

// emit delivers ev without blocking; events are dropped when nobody reads.
func (e *Engine) emit(typ EventType, id string, st State, err error) {
	ev := Event{Type: typ, NoteID: id, State: st}
	if err != nil {
		ev.Err = err.Error()
	}
	e.send(ev)
}

func (e *Engine) send(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("event dropped", "event", ev.String())
	}
}
