package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ychat20/ychat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	api := flag.String("api", "http://localhost:8080", "REST base URL used to log in")
	user := flag.String("user", "tester", "username to log in with")
	password := flag.String("password", "Password123", "password to log in with")
	token := flag.String("token", "", "JWT to use instead of logging in")
	to := flag.Int64("to", 0, "user ID to send a direct message to (0 sends to yourself)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *token == "" {
		t, err := login(ctx, *api, *user, *password)
		if err != nil {
			return err
		}
		*token = t
	}

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeConnect, proto.ConnectData{Token: *token}); err != nil {
		return err
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s event=%s\n", outbound.Type, outbound.Event)
		if outbound.Error != nil {
			return fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}

		switch outbound.Event {
		case proto.EventConnected:
			var evt proto.EventConnectedData
			if err := json.Unmarshal(outbound.Data, &evt); err != nil {
				return fmt.Errorf("unmarshal connected: %w", err)
			}
			fmt.Printf("Connected as user %d\n", evt.UserID)
			receiver := *to
			if receiver == 0 {
				receiver = evt.UserID
			}
			if err := send(proto.InboundTypeSendDirect, proto.SendDirectData{ReceiverID: receiver, Content: *text}); err != nil {
				return err
			}
		case proto.EventMessageAck:
			var evt proto.EventAckData
			if err := json.Unmarshal(outbound.Data, &evt); err != nil {
				return fmt.Errorf("unmarshal ack: %w", err)
			}
			fmt.Printf("Ack: id=%d action=%s content=%q at=%s\n", evt.Message.ID, evt.Action, evt.Message.Content, evt.Message.Timestamp.Format(time.RFC3339))
			return nil
		default:
			fmt.Printf("Raw data: %s\n", string(outbound.Data))
		}
	}
}

func login(ctx context.Context, api, user, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}
