package proto

import (
	"encoding/json"
	"time"

	"github.com/ychat20/ychat-server/internal/store"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeConnect    = "connect"
	InboundTypeSendDirect = "send_direct"
	InboundTypeSendRoom   = "send_room"
	InboundTypeEdit       = "edit"
	InboundTypeDelete     = "delete"
	InboundTypeSubscribe  = "subscribe"
	InboundTypePing       = "ping"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventConnected        = "connected"
	EventAuthError        = "auth_error"
	EventMessageAck       = "message_ack"
	EventMessageDelivered = "message_delivered"
	EventMessageEdited    = "message_edited"
	EventMessageDeleted   = "message_deleted"
	EventSubscribed       = "subscribed"
	EventPong             = "pong"
)

// DeletedContent replaces the content of a deleted message on the wire.
const DeletedContent = "[Message deleted]"

// ConnectData carries the credential when it was not supplied on the upgrade request.
type ConnectData struct {
	Token string `json:"token"`
}

// SendDirectData sends a message to one user.
type SendDirectData struct {
	ReceiverID int64  `json:"receiverId"`
	Content    string `json:"content"`
}

// SendRoomData sends a message to a room.
type SendRoomData struct {
	RoomID  int64  `json:"roomId"`
	Content string `json:"content"`
}

// EditData replaces the content of a message.
type EditData struct {
	MessageID int64  `json:"messageId"`
	Content   string `json:"content"`
}

// DeleteData soft deletes a message.
type DeleteData struct {
	MessageID int64 `json:"messageId"`
}

// SubscribeData subscribes the connection to a room joined after connect.
type SubscribeData struct {
	RoomID int64 `json:"roomId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventConnectedData confirms the session.
type EventConnectedData struct {
	UserID int64 `json:"userId"`
}

// EventAckData acknowledges the sender's own action.
type EventAckData struct {
	Action  string  `json:"action"`
	Message Message `json:"message"`
}

// EventPongData answers a ping with the server time.
type EventPongData struct {
	Timestamp time.Time `json:"timestamp"`
}

// EventSubscribedData confirms a room subscription.
type EventSubscribedData struct {
	RoomID int64 `json:"roomId"`
}

// Message is the wire form of a stored message. Deleted messages carry
// DeletedContent instead of their text.
type Message struct {
	ID         int64      `json:"id"`
	SenderID   int64      `json:"senderId"`
	ReceiverID *int64     `json:"receiverId"`
	RoomID     *int64     `json:"roomId"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	EditedAt   *time.Time `json:"editedAt"`
	DeletedAt  *time.Time `json:"deletedAt"`
	IsEdited   bool       `json:"isEdited"`
	IsDeleted  bool       `json:"isDeleted"`
}

// NewMessage converts a stored message, masking deleted content.
func NewMessage(m *store.Message) Message {
	out := Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		RoomID:     m.RoomID,
		Content:    m.Content,
		Timestamp:  m.CreatedAt,
		EditedAt:   m.EditedAt,
		DeletedAt:  m.DeletedAt,
		IsEdited:   m.EditedAt != nil,
		IsDeleted:  m.DeletedAt != nil,
	}
	if out.IsDeleted {
		out.Content = DeletedContent
	}
	return out
}

// NewMessages converts a slice of stored messages.
func NewMessages(ms []*store.Message) []Message {
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewMessage(m))
	}
	return out
}

// Pagination is the wire form of store.Pagination.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	TotalPages int  `json:"totalPages"`
	TotalItems int  `json:"totalItems"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// NewPagination converts store pagination metadata.
func NewPagination(p store.Pagination) Pagination {
	return Pagination(p)
}

// MessagePage is one page of history.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// NewMessagePage converts a page of stored messages.
func NewMessagePage(p *store.MessagePage) MessagePage {
	return MessagePage{
		Messages:   NewMessages(p.Messages),
		Pagination: NewPagination(p.Pagination),
	}
}

// Error describes a protocol-level error response.
type Error struct {
	Kind string `json:"kind,omitempty"`
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
