package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendDirect sends a message to one user.
	CommandSendDirect CommandKind = iota
	// CommandSendRoom sends a message to a room.
	CommandSendRoom
	// CommandEdit replaces the content of one of the client's messages.
	CommandEdit
	// CommandDelete soft deletes one of the client's messages.
	CommandDelete
	// CommandSubscribe subscribes the client to a room joined after connect.
	CommandSubscribe
	// CommandPing asks for a pong on the same connection.
	CommandPing
)

// Command represents an action requested by an authenticated client.
type Command struct {
	Kind       CommandKind
	ReceiverID int64
	RoomID     int64
	MessageID  int64
	Content    string
}
