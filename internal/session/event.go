package session

import (
	"context"
	"time"

	"github.com/park285/chesslink/pkg/chessdto"
)

type EventKind string

const (
	EventStateChanged  EventKind = "state_changed"
	EventColorAssigned EventKind = "color_assigned"
	EventPosition      EventKind = "position"
	EventOpponentMoved EventKind = "opponent_moved"
	EventMoveSent      EventKind = "move_sent"
	EventMoveConfirmed EventKind = "move_confirmed"
	EventMoveRejected  EventKind = "move_rejected"
	EventServerError   EventKind = "server_error"
	EventOutOfSequence EventKind = "out_of_sequence"
	EventProtocolFault EventKind = "protocol_fault"
	EventClosed        EventKind = "closed"

	// supervisor lifecycle
	EventAttached     EventKind = "attached"
	EventReconnecting EventKind = "reconnecting"
	EventRecoverFail  EventKind = "recover_failed"
	EventFatal        EventKind = "fatal"
)

// Event is one user-visible report. Session is a copy taken when the event
// was raised.
type Event struct {
	Kind    EventKind
	Session GameSession
	From    State
	To      State
	Source  chessdto.MessageType
	Move    chessdto.Move
	Message string
	Err     error
	Attempt int
	Delay   time.Duration
}

// Notifier receives every transition and error. Implementations must not block
// for long; the engine calls them inline.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Notifiers fans one event out in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
