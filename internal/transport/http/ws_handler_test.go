package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ychat20/ychat-server/internal/proto"
	"github.com/ychat20/ychat-server/internal/store"
)

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func dialWithToken(t *testing.T, ctx context.Context, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	var opts *websocket.DialOptions
	if token != "" {
		opts = &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": {"Bearer " + token}}}
	}
	conn, _, err := websocket.Dial(ctx, env.wsURL(), opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// connect dials and waits for the connected event.
func connect(t *testing.T, ctx context.Context, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	conn := dialWithToken(t, ctx, env, token)
	expectEvent(t, ctx, conn, proto.EventConnected)
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// expectEvent reads frames until one carries the named event.
func expectEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) outbound {
	t.Helper()

	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if out.Event == event {
			return out
		}
	}
}

func decodeMessage(t *testing.T, raw json.RawMessage) proto.Message {
	t.Helper()

	var msg proto.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, testConfig())

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketDirectMessageLifecycle(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := connect(t, ctx, env, aliceToken)
	connB := connect(t, ctx, env, bobToken)

	send(t, ctx, connA, proto.InboundTypeSendDirect, proto.SendDirectData{ReceiverID: bobID, Content: "hi bob"})

	ack := expectEvent(t, ctx, connA, proto.EventMessageAck)
	var ackData proto.EventAckData
	if err := json.Unmarshal(ack.Data, &ackData); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ackData.Action != "new" || ackData.Message.Content != "hi bob" {
		t.Fatalf("unexpected ack: %+v", ackData)
	}

	delivered := decodeMessage(t, expectEvent(t, ctx, connB, proto.EventMessageDelivered).Data)
	if delivered.SenderID != aliceID || delivered.ReceiverID == nil || *delivered.ReceiverID != bobID || delivered.RoomID != nil {
		t.Fatalf("unexpected delivery: %+v", delivered)
	}

	send(t, ctx, connA, proto.InboundTypeEdit, proto.EditData{MessageID: delivered.ID, Content: "hello bob"})
	edited := decodeMessage(t, expectEvent(t, ctx, connB, proto.EventMessageEdited).Data)
	if edited.Content != "hello bob" || !edited.IsEdited {
		t.Fatalf("unexpected edit: %+v", edited)
	}

	send(t, ctx, connB, proto.InboundTypeDelete, proto.DeleteData{MessageID: delivered.ID})
	rejected := expectEvent(t, ctx, connB, proto.OutboundTypeError)
	if rejected.Error == nil || rejected.Error.Code != "not_sender" {
		t.Fatalf("expected not_sender, got %+v", rejected.Error)
	}

	send(t, ctx, connA, proto.InboundTypeDelete, proto.DeleteData{MessageID: delivered.ID})
	deleted := decodeMessage(t, expectEvent(t, ctx, connB, proto.EventMessageDeleted).Data)
	if deleted.Content != proto.DeletedContent || !deleted.IsDeleted {
		t.Fatalf("expected masked content, got %+v", deleted)
	}
}

func TestWebSocketRoomFanOut(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")
	_, malloryToken := env.register(t, "mallory")

	room, err := env.rooms.Create(context.Background(), aliceID, "general", nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := env.rooms.AddMember(context.Background(), aliceID, room.ID, bobID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := connect(t, ctx, env, aliceToken)
	connB := connect(t, ctx, env, bobToken)
	connM := connect(t, ctx, env, malloryToken)

	send(t, ctx, connM, proto.InboundTypeSendRoom, proto.SendRoomData{RoomID: room.ID, Content: "let me in"})
	rejected := expectEvent(t, ctx, connM, proto.OutboundTypeError)
	if rejected.Error == nil || rejected.Error.Kind != "authorization_error" {
		t.Fatalf("expected authorization error, got %+v", rejected.Error)
	}

	send(t, ctx, connA, proto.InboundTypeSendRoom, proto.SendRoomData{RoomID: room.ID, Content: "hello room"})
	expectEvent(t, ctx, connA, proto.EventMessageAck)
	msg := decodeMessage(t, expectEvent(t, ctx, connB, proto.EventMessageDelivered).Data)
	if msg.RoomID == nil || *msg.RoomID != room.ID || msg.Content != "hello room" {
		t.Fatalf("unexpected room delivery: %+v", msg)
	}

	page, err := env.hub.Router().RoomHistory(ctx, bobID, room.ID, store.PageRequest{Page: 1})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Pagination.TotalItems != 1 {
		t.Fatalf("only the member's message must be stored, got %d", page.Pagination.TotalItems)
	}
}

func TestWebSocketConnectFrame(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWithToken(t, ctx, env, "")
	send(t, ctx, conn, proto.InboundTypeConnect, proto.ConnectData{Token: aliceToken})

	out := expectEvent(t, ctx, conn, proto.EventConnected)
	var data proto.EventConnectedData
	if err := json.Unmarshal(out.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.UserID != aliceID {
		t.Fatalf("expected user %d, got %d", aliceID, data.UserID)
	}
}

func TestWebSocketAuthFailures(t *testing.T) {
	cfg := testConfig()
	cfg.AuthTimeout = 200 * time.Millisecond
	env := startTestServer(t, cfg)
	_, token := env.register(t, "alice")

	tests := []struct {
		name   string
		token  string
		frame  *proto.Inbound
		reason string
	}{
		{name: "bad token", token: "garbage", reason: "invalid token"},
		{name: "timeout", reason: "authentication timeout"},
		{name: "wrong first frame", frame: &proto.Inbound{Type: proto.InboundTypeSendDirect, Data: json.RawMessage(`{}`)}, reason: "expected connect message"},
		{name: "empty connect", frame: &proto.Inbound{Type: proto.InboundTypeConnect, Data: json.RawMessage(`{"token":""}`)}, reason: "missing token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dialWithToken(t, ctx, env, tt.token)
			if tt.frame != nil {
				if err := wsjson.Write(ctx, conn, tt.frame); err != nil {
					t.Fatalf("write: %v", err)
				}
			}

			out := expectEvent(t, ctx, conn, proto.EventAuthError)
			if out.Error == nil || out.Error.Msg == "" {
				t.Fatalf("expected an auth error reason, got %+v", out)
			}
			if tt.reason != "" && !strings.Contains(out.Error.Msg, tt.reason) {
				t.Fatalf("expected reason %q, got %q", tt.reason, out.Error.Msg)
			}

			var next outbound
			err := wsjson.Read(ctx, conn, &next)
			if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				t.Fatalf("expected policy violation close, got %v", err)
			}
		})
	}

	// A valid token still works on the same server.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	connect(t, ctx, env, token)
}

func TestWebSocketSessionReplaced(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, token := env.register(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := connect(t, ctx, env, token)
	second := connect(t, ctx, env, token)

	out := expectEvent(t, ctx, first, proto.EventAuthError)
	if out.Error == nil || out.Error.Code != "session_replaced" {
		t.Fatalf("expected session_replaced, got %+v", out.Error)
	}
	var next outbound
	if err := wsjson.Read(ctx, first, &next); err == nil {
		t.Fatalf("expected the replaced connection to be closed, got %+v", next)
	}

	send(t, ctx, second, proto.InboundTypeSendDirect, proto.SendDirectData{ReceiverID: aliceID, Content: "still here"})
	expectEvent(t, ctx, second, proto.EventMessageAck)
}

func TestWebSocketSubscribeAfterJoin(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := connect(t, ctx, env, aliceToken)
	connB := connect(t, ctx, env, bobToken)

	room, err := env.rooms.Create(ctx, aliceID, "later", nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := env.rooms.AddMember(ctx, aliceID, room.ID, bobID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	send(t, ctx, connB, proto.InboundTypeSubscribe, proto.SubscribeData{RoomID: room.ID})
	expectEvent(t, ctx, connB, proto.EventSubscribed)

	send(t, ctx, connA, proto.InboundTypeSendRoom, proto.SendRoomData{RoomID: room.ID, Content: "welcome"})
	if msg := decodeMessage(t, expectEvent(t, ctx, connB, proto.EventMessageDelivered).Data); msg.Content != "welcome" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesPerMinute = 1
	env := startTestServer(t, cfg)
	aliceID, token := env.register(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connect(t, ctx, env, token)
	send(t, ctx, conn, proto.InboundTypeSendDirect, proto.SendDirectData{ReceiverID: aliceID, Content: "one"})
	expectEvent(t, ctx, conn, proto.EventMessageAck)

	send(t, ctx, conn, proto.InboundTypeSendDirect, proto.SendDirectData{ReceiverID: aliceID, Content: "two"})
	out := expectEvent(t, ctx, conn, proto.OutboundTypeError)
	if out.Error == nil || out.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", out.Error)
	}
}

func TestWebSocketPing(t *testing.T) {
	env := startTestServer(t, testConfig())
	_, token := env.register(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := connect(t, ctx, env, token)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	pong := expectEvent(t, ctx, conn, proto.EventPong)
	var data proto.EventPongData
	if err := json.Unmarshal(pong.Data, &data); err != nil {
		t.Fatalf("unmarshal pong: %v", err)
	}
	if data.Timestamp.IsZero() {
		t.Fatalf("expected a server timestamp, got %s", pong.Data)
	}
}
