package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/store"
)

// Verifier resolves a credential to a user ID. IsCredentialError tells a
// rejected credential apart from a failure to check it.
type Verifier interface {
	Verify(ctx context.Context, token string) (int64, error)
	IsCredentialError(err error) bool
}

// Hub owns the session lifecycle: it authenticates clients, registers them,
// subscribes them to their rooms and dispatches their commands to the router.
type Hub struct {
	registry *Registry
	router   *Router
	store    store.Store
	verifier Verifier
	log      *zerolog.Logger
}

// NewHub creates a hub with an empty registry.
func NewHub(st store.Store, verifier Verifier, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	registry := NewRegistry()
	return &Hub{
		registry: registry,
		router:   NewRouter(st, registry, logger),
		store:    st,
		verifier: verifier,
		log:      logger,
	}
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Router exposes the message router, for callers that act outside a session.
func (h *Hub) Router() *Router {
	return h.router
}

// Run blocks until ctx is done, then closes every registered client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	for _, c := range h.registry.Clients() {
		h.registry.Unregister(c)
		c.Close("server shutting down")
	}
	h.log.Info().Msg("hub stopped")
}

// Connect authenticates c with token and makes it the live client of the
// resulting user, subscribed to every room the user belongs to. A previous
// client of the same user is told it was replaced and closed.
//
// On failure c is left unregistered and the error is returned: an auth error
// for a rejected credential, a persistence error when the check itself
// failed. The caller reports it and closes the connection.
func (h *Hub) Connect(ctx context.Context, c *Client, token string) (int64, error) {
	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		if !h.verifier.IsCredentialError(err) {
			h.log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to verify credential")
			return 0, wrap(ErrPersistence, err)
		}
		h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("authentication failed")
		return 0, authError(err)
	}

	roomIDs, err := h.store.ListRoomIDsForUser(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to load rooms")
		return 0, wrap(ErrPersistence, err)
	}

	if old := h.registry.Register(userID, c); old != nil {
		old.Deliver(ErrorEvent(ErrSessionReplaced))
		old.Close(ErrSessionReplaced.Message)
		h.log.Info().Int64("user_id", userID).Str("conn_id", old.ID).Msg("session replaced")
	}
	joined := h.registry.JoinAllRooms(userID, roomIDs)

	// A member removed after the snapshot was unsubscribed before the join
	// above could see it; a second read catches that window.
	current, err := h.store.ListRoomIDsForUser(ctx, userID)
	if err != nil {
		h.registry.Unregister(c)
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to reload rooms")
		return 0, wrap(ErrPersistence, err)
	}
	if stale := h.registry.RetainRooms(c, current); stale > 0 {
		joined -= stale
		h.log.Debug().Int64("user_id", userID).Int("rooms", stale).Msg("dropped rooms left during connect")
	}

	c.Deliver(&Event{Kind: EventConnected, UserID: userID})
	h.log.Info().
		Int64("user_id", userID).
		Str("conn_id", c.ID).
		Int("rooms", joined).
		Msg("client connected")
	return userID, nil
}

// Disconnect unregisters c and closes it. It is safe to call more than once
// and on a client that never authenticated.
func (h *Hub) Disconnect(c *Client) {
	if userID, ok := h.registry.Unregister(c); ok {
		h.log.Info().Int64("user_id", userID).Str("conn_id", c.ID).Msg("client disconnected")
	}
	c.Close("disconnected")
}

// Handle executes one command on behalf of c. Failures are reported to c as
// error events and returned.
func (h *Hub) Handle(ctx context.Context, c *Client, cmd *Command) error {
	userID, ok := h.registry.IdentityOf(c)
	if !ok {
		c.Deliver(ErrorEvent(ErrUnauthenticated))
		return ErrUnauthenticated
	}

	err := h.dispatch(ctx, Actor{UserID: userID, Client: c}, cmd)
	if err != nil {
		ce := AsCoreError(err)
		c.Deliver(ErrorEvent(ce))
		h.log.Debug().
			Int64("user_id", userID).
			Str("code", ce.Code).
			Msg("command rejected")
		return ce
	}
	return nil
}

func (h *Hub) dispatch(ctx context.Context, actor Actor, cmd *Command) error {
	var err error
	switch cmd.Kind {
	case CommandSendDirect:
		_, err = h.router.SendDirect(ctx, actor, cmd.ReceiverID, cmd.Content)
	case CommandSendRoom:
		_, err = h.router.SendRoom(ctx, actor, cmd.RoomID, cmd.Content)
	case CommandEdit:
		_, err = h.router.Edit(ctx, actor, cmd.MessageID, cmd.Content)
	case CommandDelete:
		_, err = h.router.Delete(ctx, actor, cmd.MessageID)
	case CommandSubscribe:
		err = h.subscribe(ctx, actor, cmd.RoomID)
	case CommandPing:
		actor.Client.Deliver(&Event{Kind: EventPong, UserID: actor.UserID})
	default:
		err = coreError(KindValidation, ErrCodeBadRequest, "unknown command")
	}
	return err
}

// subscribe adds the actor's client to a room it is already a member of, for
// rooms joined after the session started.
func (h *Hub) subscribe(ctx context.Context, actor Actor, roomID int64) error {
	if err := h.router.requireMember(ctx, roomID, actor.UserID); err != nil {
		return err
	}
	if !h.registry.Subscribe(actor.Client, roomID) {
		return ErrUnauthenticated
	}

	// The membership may have been removed between the check and the
	// subscription, after the removal already unsubscribed this client.
	ok, err := h.store.IsMember(ctx, roomID, actor.UserID)
	if err != nil || !ok {
		h.registry.Unsubscribe(actor.Client, roomID)
		if err != nil {
			return wrap(ErrPersistence, err)
		}
		return ErrNotRoomMember
	}

	actor.Client.Deliver(&Event{Kind: EventSubscribed, RoomID: roomID})
	return nil
}

// IsAuthError reports whether err should end the session.
func IsAuthError(err error) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Kind == KindAuth
}
