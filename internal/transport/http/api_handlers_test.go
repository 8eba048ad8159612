package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/proto"
)

// do sends a JSON request and decodes a JSON response into out when it is non-nil.
func do(t *testing.T, env *testEnv, method, path, token string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, env.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: unmarshal %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode
}

func TestAuthEndpoints(t *testing.T) {
	env := startTestServer(t, testConfig())

	var auth AuthResponse
	if code := do(t, env, http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: "alice", Password: "Password123"}, &auth); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if auth.Token == "" {
		t.Fatalf("expected token")
	}

	var errResp ErrorResponse
	if code := do(t, env, http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: "alice", Password: "Password123"}, &errResp); code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", code)
	}
	if code := do(t, env, http.MethodPost, "/api/auth/register", "", RegisterRequest{Username: "a!", Password: "Password123"}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad username, got %d", code)
	}
	if code := do(t, env, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "nope"}, &errResp); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", code)
	}

	var login AuthResponse
	if code := do(t, env, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "Password123"}, &login); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var me UserResponse
	if code := do(t, env, http.MethodGet, "/api/auth/me", login.Token, nil, &me); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if me.Username != "alice" {
		t.Fatalf("unexpected user: %+v", me)
	}

	if code := do(t, env, http.MethodGet, "/api/auth/me", "", nil, &errResp); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := do(t, env, http.MethodGet, "/api/auth/me", "not-a-jwt", nil, &errResp); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	env := startTestServer(t, testConfig())
	_, token := env.register(t, "alice")
	env.register(t, "alicia")
	env.register(t, "bob")

	var users []UserResponse
	if code := do(t, env, http.MethodGet, "/api/users/search?q=ali", token, nil, &users); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(users) != 1 || users[0].Username != "alicia" {
		t.Fatalf("unexpected results: %+v", users)
	}

	var errResp ErrorResponse
	if code := do(t, env, http.MethodGet, "/api/users/search?q=al", token, nil, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short query, got %d", code)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := startTestServer(t, testConfig())

	tests := []struct {
		name string
		req  RegisterRequest
		want int
	}{
		{name: "weak password", req: RegisterRequest{Username: "alice", Password: "password123"}, want: http.StatusBadRequest},
		{name: "long username", req: RegisterRequest{Username: strings.Repeat("a", 31), Password: "Password123"}, want: http.StatusBadRequest},
		{name: "bad email", req: RegisterRequest{Username: "alice", Email: "alice-at-example", Password: "Password123"}, want: http.StatusBadRequest},
		{name: "with email", req: RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "Password123"}, want: http.StatusCreated},
		{name: "duplicate email", req: RegisterRequest{Username: "alice2", Email: "alice@example.com", Password: "Password123"}, want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, env, http.MethodPost, "/api/auth/register", "", tt.req, nil); code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	env := startTestServer(t, testConfig())
	_, token := env.register(t, "alice")

	var errResp ErrorResponse
	if code := do(t, env, http.MethodPut, "/api/users/me", token, map[string]any{}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", code)
	}
	if code := do(t, env, http.MethodPut, "/api/users/me", token, map[string]string{"bio": strings.Repeat("x", 501)}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long bio, got %d", code)
	}

	var user UserResponse
	if code := do(t, env, http.MethodPut, "/api/users/me", token, map[string]string{"fullName": " Alice Liddell "}, &user); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if user.FullName == nil || *user.FullName != "Alice Liddell" || user.Bio != nil {
		t.Fatalf("unexpected profile: %+v", user)
	}

	if code := do(t, env, http.MethodPut, "/api/users/me", token, map[string]string{"bio": "curious"}, &user); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var me UserResponse
	if code := do(t, env, http.MethodGet, "/api/auth/me", token, nil, &me); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if me.FullName == nil || *me.FullName != "Alice Liddell" || me.Bio == nil || *me.Bio != "curious" {
		t.Fatalf("expected both fields to persist, got %+v", me)
	}
}

func TestRoomEndpoints(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")
	_, carolToken := env.register(t, "carol")

	var room RoomResponse
	if code := do(t, env, http.MethodPost, "/api/rooms", aliceToken, CreateRoomRequest{Name: "general"}, &room); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if room.CreatorID != aliceID || room.Name != "general" {
		t.Fatalf("unexpected room: %+v", room)
	}

	var errResp ErrorResponse
	if code := do(t, env, http.MethodPost, "/api/rooms", aliceToken, CreateRoomRequest{Name: "   "}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", code)
	}

	roomPath := fmt.Sprintf("/api/rooms/%d", room.ID)
	if code := do(t, env, http.MethodGet, roomPath, bobToken, nil, &errResp); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", code)
	}
	if code := do(t, env, http.MethodPost, roomPath+"/members", carolToken, AddMemberRequest{UserID: bobID}, &errResp); code != http.StatusForbidden {
		t.Fatalf("expected 403 when a non-member adds, got %d", code)
	}

	var member MemberResponse
	if code := do(t, env, http.MethodPost, roomPath+"/members", aliceToken, AddMemberRequest{UserID: bobID}, &member); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if code := do(t, env, http.MethodPost, roomPath+"/members", aliceToken, AddMemberRequest{UserID: bobID}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate member, got %d", code)
	}
	if code := do(t, env, http.MethodPost, roomPath+"/members", aliceToken, AddMemberRequest{UserID: 999}, &errResp); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", code)
	}

	var list []RoomResponse
	if code := do(t, env, http.MethodGet, "/api/rooms", bobToken, nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("expected bob to see one room, got %d %+v", code, list)
	}

	if code := do(t, env, http.MethodDelete, fmt.Sprintf("%s/members/%d", roomPath, aliceID), aliceToken, nil, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 when the creator leaves early, got %d", code)
	}
	if code := do(t, env, http.MethodDelete, fmt.Sprintf("%s/members/%d", roomPath, bobID), bobToken, nil, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204 when bob leaves, got %d", code)
	}
	if code := do(t, env, http.MethodGet, "/api/rooms/abc", aliceToken, nil, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", code)
	}
	if code := do(t, env, http.MethodGet, "/api/rooms/999", aliceToken, nil, &errResp); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing room, got %d", code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")
	ctx := context.Background()
	router := env.hub.Router()

	for i := 0; i < 60; i++ {
		sender, receiver := aliceID, bobID
		if i%2 == 1 {
			sender, receiver = bobID, aliceID
		}
		if _, err := router.SendDirect(ctx, core.Actor{UserID: sender}, receiver, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var page proto.MessagePage
	path := fmt.Sprintf("/api/messages/history/%d", bobID)
	if code := do(t, env, http.MethodGet, path, aliceToken, nil, &page); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(page.Messages) != 50 || page.Pagination.TotalItems != 60 || page.Pagination.TotalPages != 2 || !page.Pagination.HasNext {
		t.Fatalf("unexpected first page: %+v", page.Pagination)
	}
	if page.Messages[0].Content != "m0" {
		t.Fatalf("expected oldest first, got %q", page.Messages[0].Content)
	}

	if code := do(t, env, http.MethodGet, path+"?page=2&per_page=50", aliceToken, nil, &page); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(page.Messages) != 10 || page.Pagination.HasNext || !page.Pagination.HasPrev {
		t.Fatalf("unexpected second page: %+v", page.Pagination)
	}

	if code := do(t, env, http.MethodGet, path+"?per_page=500", aliceToken, nil, &page); code != http.StatusOK || page.Pagination.PerPage != 100 {
		t.Fatalf("expected per_page clamped to 100, got %d %+v", code, page.Pagination)
	}

	var errResp ErrorResponse
	if code := do(t, env, http.MethodGet, path+"?page=0", aliceToken, nil, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for page 0, got %d", code)
	}

	// Bob sees the same conversation from his side.
	if code := do(t, env, http.MethodGet, fmt.Sprintf("/api/messages/history/%d?per_page=100", aliceID), bobToken, nil, &page); code != http.StatusOK || len(page.Messages) != 60 {
		t.Fatalf("expected 60 messages for bob, got %d %d", code, len(page.Messages))
	}
}

func TestRESTEditFansOutToLiveSessions(t *testing.T) {
	env := startTestServer(t, testConfig())
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connB := connect(t, ctx, env, bobToken)

	msg, err := env.hub.Router().SendDirect(ctx, core.Actor{UserID: aliceID}, bobID, "draft")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	expectEvent(t, ctx, connB, proto.EventMessageDelivered)

	path := fmt.Sprintf("/api/messages/%d", msg.ID)
	var errResp ErrorResponse
	if code := do(t, env, http.MethodPut, path, bobToken, EditMessageRequest{Content: "hijack"}, &errResp); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-sender, got %d", code)
	}
	if code := do(t, env, http.MethodPut, path, aliceToken, EditMessageRequest{Content: ""}, &errResp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d", code)
	}

	var edited proto.Message
	if code := do(t, env, http.MethodPut, path, aliceToken, EditMessageRequest{Content: "final"}, &edited); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !edited.IsEdited || edited.Content != "final" {
		t.Fatalf("unexpected edit response: %+v", edited)
	}
	if live := decodeMessage(t, expectEvent(t, ctx, connB, proto.EventMessageEdited).Data); live.Content != "final" {
		t.Fatalf("unexpected live edit: %+v", live)
	}

	var deleted proto.Message
	if code := do(t, env, http.MethodDelete, path, aliceToken, nil, &deleted); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if deleted.Content != proto.DeletedContent {
		t.Fatalf("expected masked content, got %q", deleted.Content)
	}
	expectEvent(t, ctx, connB, proto.EventMessageDeleted)

	if code := do(t, env, http.MethodDelete, path, aliceToken, nil, &errResp); code != http.StatusForbidden || errResp.Code != core.ErrCodeMessageDeleted {
		t.Fatalf("expected 403 message_deleted, got %d %+v", code, errResp)
	}
	if code := do(t, env, http.MethodPut, "/api/messages/999", aliceToken, EditMessageRequest{Content: "x"}, &errResp); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}
