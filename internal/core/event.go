package core

import "github.com/ychat20/ychat-server/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnected confirms authentication and carries the user ID.
	EventConnected EventKind = iota
	// EventAuthError rejects a credential or ends a replaced session.
	EventAuthError
	// EventMessageAck acknowledges the actor's send, edit or delete.
	EventMessageAck
	// EventMessageDelivered carries a new direct or room message.
	EventMessageDelivered
	// EventMessageEdited carries a message whose content changed.
	EventMessageEdited
	// EventMessageDeleted carries a message that was soft deleted.
	EventMessageDeleted
	// EventSubscribed confirms an explicit room subscription.
	EventSubscribed
	// EventError notifies the acting client about a rejected action.
	EventError
	// EventPong answers a ping.
	EventPong
)

// Action names the operation an acknowledgment refers to.
type Action string

const (
	ActionNew     Action = "new"
	ActionEdited  Action = "edited"
	ActionDeleted Action = "deleted"
)

// Event is sent to clients to describe what happened in the system.
// Message is shared between recipients and must not be modified.
type Event struct {
	Kind    EventKind
	UserID  int64
	RoomID  int64
	Action  Action
	Message *store.Message
	Error   *CoreError
}

// ErrorEvent builds the event that reports err to the acting client.
func ErrorEvent(err error) *Event {
	ce := AsCoreError(err)
	kind := EventError
	if ce.Kind == KindAuth {
		kind = EventAuthError
	}
	return &Event{Kind: kind, Error: ce}
}

// eventFor returns the audience event kind for an action.
func eventFor(action Action) EventKind {
	switch action {
	case ActionEdited:
		return EventMessageEdited
	case ActionDeleted:
		return EventMessageDeleted
	default:
		return EventMessageDelivered
	}
}
