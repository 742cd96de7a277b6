// Package bus carries coordination messages between editing sessions.
//
// Three brokers are provided: Memory for sessions in one process, Dir for
// processes sharing a workspace directory, and the websocket Hub/Client pair
// for sessions on different machines.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// Topic is the well-known topic used by the sync coordinator.
const Topic = "gitnote.sync"

// Kind is the type of a coordination message.
type Kind string

const (
	// KindEditing announces that a session is editing a note.
	KindEditing Kind = "editing"
	// KindSaved announces content confirmed by the metadata store.
	KindSaved Kind = "saved"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("bus closed")

// Message is a coordination message. Note, ConfirmedAt and Revision are set
// on saved messages only.
type Message struct {
	Topic       string     `json:"topic"`
	Kind        Kind       `json:"kind"`
	SessionID   string     `json:"sessionId"`
	NoteID      string     `json:"noteId"`
	SentAt      time.Time  `json:"sentAt"`
	Note        *core.Note `json:"note,omitempty"`
	ConfirmedAt time.Time  `json:"confirmedAt,omitzero"`
	Revision    string     `json:"revision,omitempty"`
}

// Handler receives messages for a subscribed topic. Handlers run on the
// broker's delivery goroutine and must not block for long.
type Handler func(Message)

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Broker publishes and delivers messages by topic.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Close() error
}
