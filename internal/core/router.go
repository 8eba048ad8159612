package core

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/store"
)

// MaxContentLength is the longest accepted message, in characters, after trimming.
const MaxContentLength = 5000

// Actor identifies who performs an operation. Client is the actor's own
// connection when the request came in over one; it receives the
// acknowledgment and is never part of the fan-out audience.
type Actor struct {
	UserID int64
	Client *Client
}

// Intent is an unvalidated request to send a message. Exactly one of
// ReceiverID and RoomID must be set.
type Intent struct {
	ReceiverID *int64
	RoomID     *int64
	Content    string
}

// Router validates, persists and fans out messages. Each call runs its
// steps in order on the caller's goroutine; delivery happens only after the
// write has committed.
type Router struct {
	store    store.Store
	registry *Registry
	log      *zerolog.Logger
	now      func() time.Time
}

// NewRouter builds a router over the given store and registry.
func NewRouter(st store.Store, registry *Registry, logger *zerolog.Logger) *Router {
	return &Router{
		store:    st,
		registry: registry,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ValidateContent trims content and checks it is non-empty and within
// MaxContentLength characters.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// SendDirect sends content to a single user.
func (r *Router) SendDirect(ctx context.Context, actor Actor, receiverID int64, content string) (*store.Message, error) {
	return r.Send(ctx, actor, Intent{ReceiverID: &receiverID, Content: content})
}

// SendRoom sends content to every member of a room.
func (r *Router) SendRoom(ctx context.Context, actor Actor, roomID int64, content string) (*store.Message, error) {
	return r.Send(ctx, actor, Intent{RoomID: &roomID, Content: content})
}

// Send runs a message intent through validation, authorization, commit and
// fan-out. Any error returned means nothing was stored and nothing was
// delivered.
func (r *Router) Send(ctx context.Context, actor Actor, in Intent) (*store.Message, error) {
	content, err := ValidateContent(in.Content)
	if err != nil {
		return nil, err
	}
	switch {
	case in.ReceiverID == nil && in.RoomID == nil:
		return nil, ErrMissingDestination
	case in.ReceiverID != nil && in.RoomID != nil:
		return nil, ErrBothDestinations
	}

	if in.ReceiverID != nil {
		if err := r.requireUser(ctx, *in.ReceiverID); err != nil {
			return nil, err
		}
	} else {
		if err := r.requireMember(ctx, *in.RoomID, actor.UserID); err != nil {
			return nil, err
		}
	}

	msg := &store.Message{
		SenderID:   actor.UserID,
		ReceiverID: in.ReceiverID,
		RoomID:     in.RoomID,
		Content:    content,
		CreatedAt:  r.now(),
	}

	// The commit must not be abandoned halfway because the sender's
	// connection went away.
	if err := r.store.CreateMessage(context.WithoutCancel(ctx), msg); err != nil {
		r.log.Error().Err(err).Int64("user_id", actor.UserID).Msg("failed to persist message")
		return nil, wrap(ErrPersistence, err)
	}

	r.log.Debug().Int64("message_id", msg.ID).Int64("user_id", actor.UserID).Msg("message persisted")
	r.publish(ctx, actor, ActionNew, msg)
	return msg, nil
}

// Edit replaces the content of a message. Only the sender may edit, and only
// while the message is not deleted.
func (r *Router) Edit(ctx context.Context, actor Actor, messageID int64, content string) (*store.Message, error) {
	msg, err := r.mutate(ctx, actor, messageID, func(m *store.Message) error {
		trimmed, err := ValidateContent(content)
		if err != nil {
			return err
		}
		now := r.now()
		m.Content = trimmed
		m.EditedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.publish(ctx, actor, ActionEdited, msg)
	return msg, nil
}

// Delete soft deletes a message. The row and its content are kept; the wire
// layer masks the content on every read.
func (r *Router) Delete(ctx context.Context, actor Actor, messageID int64) (*store.Message, error) {
	msg, err := r.mutate(ctx, actor, messageID, func(m *store.Message) error {
		now := r.now()
		m.DeletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.publish(ctx, actor, ActionDeleted, msg)
	return msg, nil
}

// mutate applies change inside a store transaction after checking the
// message is still live and belongs to the actor. A deleted message is
// rejected the same way for every actor.
func (r *Router) mutate(ctx context.Context, actor Actor, messageID int64, change func(*store.Message) error) (*store.Message, error) {
	msg, err := r.store.UpdateMessage(context.WithoutCancel(ctx), messageID, func(m *store.Message) error {
		if m.IsDeleted() {
			return ErrMessageDeleted
		}
		if m.SenderID != actor.UserID {
			return ErrNotSender
		}
		return change(m)
	})
	if err == nil {
		return msg, nil
	}

	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return nil, ce
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrMessageNotFound
	default:
		r.log.Error().Err(err).Int64("message_id", messageID).Msg("failed to update message")
		return nil, wrap(ErrPersistence, err)
	}
}

// publish acknowledges the actor and delivers the event to the message's
// audience: the direct peer, or every room subscriber, minus the actor.
// The ack waits for room in the actor's queue; audience deliveries that do
// not fit are logged and dropped.
func (r *Router) publish(ctx context.Context, actor Actor, action Action, msg *store.Message) {
	if actor.Client != nil {
		ack := &Event{Kind: EventMessageAck, Action: action, Message: msg}
		if !actor.Client.DeliverWait(ctx, ack) {
			r.log.Warn().Str("conn_id", actor.Client.ID).Int64("message_id", msg.ID).Msg("ack not delivered, client gone")
		}
	}

	self, _ := r.registry.Lookup(actor.UserID)
	skip := func(c *Client) bool {
		return c == actor.Client || c == self
	}

	var targets []*Client
	if msg.ReceiverID != nil {
		if *msg.ReceiverID != actor.UserID {
			if c, ok := r.registry.Lookup(*msg.ReceiverID); ok && !skip(c) {
				targets = append(targets, c)
			}
		}
	} else if msg.RoomID != nil {
		for _, c := range r.registry.Members(*msg.RoomID) {
			if !skip(c) {
				targets = append(targets, c)
			}
		}
	}

	ev := &Event{Kind: eventFor(action), Action: action, Message: msg}
	delivered := 0
	for _, c := range targets {
		if c.Deliver(ev) {
			delivered++
			continue
		}
		r.log.Debug().Str("conn_id", c.ID).Int64("message_id", msg.ID).Msg("delivery dropped")
	}

	r.log.Debug().
		Int64("message_id", msg.ID).
		Str("action", string(action)).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("message fanned out")
}

// DirectHistory returns one page of the conversation between userID and peerID.
func (r *Router) DirectHistory(ctx context.Context, userID, peerID int64, page store.PageRequest) (*store.MessagePage, error) {
	if page.Page < 1 {
		return nil, ErrInvalidPage
	}
	if err := r.requireUser(ctx, peerID); err != nil {
		return nil, err
	}
	res, err := r.store.ListDirectMessages(ctx, userID, peerID, page.Normalize())
	if err != nil {
		return nil, wrap(ErrPersistence, err)
	}
	return res, nil
}

// RoomHistory returns one page of a room's messages. Only members may read.
func (r *Router) RoomHistory(ctx context.Context, userID, roomID int64, page store.PageRequest) (*store.MessagePage, error) {
	if page.Page < 1 {
		return nil, ErrInvalidPage
	}
	if err := r.requireMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	res, err := r.store.ListRoomMessages(ctx, roomID, page.Normalize())
	if err != nil {
		return nil, wrap(ErrPersistence, err)
	}
	return res, nil
}

func (r *Router) requireUser(ctx context.Context, userID int64) error {
	if _, err := r.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return wrap(ErrPersistence, err)
	}
	return nil
}

func (r *Router) requireMember(ctx context.Context, roomID, userID int64) error {
	if _, err := r.store.GetRoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return wrap(ErrPersistence, err)
	}
	ok, err := r.store.IsMember(ctx, roomID, userID)
	if err != nil {
		return wrap(ErrPersistence, err)
	}
	if !ok {
		return ErrNotRoomMember
	}
	return nil
}
