package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/config"
	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/proto"
)

const authErrorWriteTimeout = 2 * time.Second

var (
	errAuthTimeout     = core.NewError(core.KindAuth, core.ErrCodeUnauthorized, "authentication timeout")
	errExpectedConnect = core.NewError(core.KindAuth, core.ErrCodeUnauthorized, "expected connect message")
	errClientClosed    = errors.New("client closed by server")
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub *core.Hub
	cfg *config.Config
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	token := credentialFromRequest(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(h.cfg.SendBuffer)
	defer h.hub.Disconnect(client)

	if err := h.authenticate(ctx, conn, client, token); err != nil {
		h.rejectAuth(ctx, conn, client, err)
		return
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errClientClosed) {
		conn.Close(websocket.StatusGoingAway, client.CloseReason())
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// credentialFromRequest returns a token sent on the upgrade request, from the
// Authorization header or the token query parameter.
func credentialFromRequest(r *stdhttp.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authenticate resolves the session identity within the configured timeout.
// Without a token on the upgrade request the first frame must be connect.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn, client *core.Client, token string) error {
	authCtx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	if token == "" {
		var err error
		token, err = h.awaitConnect(ctx, authCtx, conn)
		if err != nil {
			return err
		}
	}

	_, err := h.hub.Connect(authCtx, client, token)
	return err
}

// awaitConnect reads the connect frame. The read runs on connCtx so that an
// expired authCtx leaves the socket open for the auth_error frame.
func (h *WSHandler) awaitConnect(connCtx, authCtx context.Context, conn *websocket.Conn) (string, error) {
	type result struct {
		inbound proto.Inbound
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		var inbound proto.Inbound
		err := wsjson.Read(connCtx, conn, &inbound)
		ch <- result{inbound: inbound, err: err}
	}()

	select {
	case <-authCtx.Done():
		return "", errAuthTimeout
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if res.inbound.Type != proto.InboundTypeConnect {
			return "", errExpectedConnect
		}
		var data proto.ConnectData
		if err := json.Unmarshal(res.inbound.Data, &data); err != nil {
			return "", errExpectedConnect
		}
		return data.Token, nil
	}
}

// rejectAuth reports an authentication failure and closes the connection.
func (h *WSHandler) rejectAuth(ctx context.Context, conn *websocket.Conn, client *core.Client, err error) {
	var ce *core.CoreError
	if !errors.As(err, &ce) {
		// The socket failed before a credential arrived.
		h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("ws closed during authentication")
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), authErrorWriteTimeout)
	defer cancel()

	event := core.ErrorEvent(ce)
	if writeErr := wsjson.Write(writeCtx, conn, outboundFromEvent(event)); writeErr != nil {
		h.log.Debug().Err(writeErr).Str("conn_id", client.ID).Msg("write auth error")
	}

	if ce.Kind != core.KindAuth {
		h.log.Error().Err(ce).Str("conn_id", client.ID).Msg("ws authentication failed")
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	h.log.Info().Str("conn_id", client.ID).Str("reason", ce.Message).Msg("ws authentication rejected")
	conn.Close(websocket.StatusPolicyViolation, "authentication failed")
}

// readLoop handles inbound frames one at a time, so a connection's intents
// are processed in the order they were sent.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.cfg.MessagesPerMinute)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			client.Deliver(core.ErrorEvent(errRateLimited))
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			client.Deliver(core.ErrorEvent(protoErr))
			continue
		}

		// Handle reports failures to the client itself.
		_ = h.hub.Handle(ctx, client, cmd)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events():
			if err := h.write(ctx, conn, client, event); err != nil {
				return err
			}
		case <-client.Done():
			h.flush(ctx, conn, client)
			return errClientClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush writes events queued before the client was closed, such as the
// notice that the session was replaced.
func (h *WSHandler) flush(ctx context.Context, conn *websocket.Conn, client *core.Client) {
	for {
		select {
		case event := <-client.Events():
			if err := h.write(ctx, conn, client, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, client *core.Client, event *core.Event) error {
	if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
		h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("write ws event")
		return err
	}
	return nil
}
