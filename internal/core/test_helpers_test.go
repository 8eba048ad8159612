package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ychat20/ychat-server/internal/store"
	"github.com/ychat20/ychat-server/internal/store/sqlite"
)

func mustEvent(t *testing.T, c *Client, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-c.Events():
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// expectQuiet fails if c has any queued event.
func expectQuiet(t *testing.T, c *Client) {
	t.Helper()

	select {
	case ev := <-c.Events():
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

// drain discards every queued event.
func drain(c *Client) {
	for {
		select {
		case <-c.Events():
		default:
			return
		}
	}
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustUser(t *testing.T, st store.Store, name string) int64 {
	t.Helper()

	u, err := st.CreateUser(context.Background(), name, nil, "hash")
	if err != nil {
		t.Fatalf("failed to create user %s: %v", name, err)
	}
	return u.ID
}

func mustRoom(t *testing.T, st store.Store, name string, creatorID int64, members ...int64) int64 {
	t.Helper()

	ctx := context.Background()
	room, err := st.CreateRoom(ctx, name, nil, creatorID)
	if err != nil {
		t.Fatalf("failed to create room %s: %v", name, err)
	}
	for _, id := range members {
		if _, err := st.AddMember(ctx, room.ID, id); err != nil {
			t.Fatalf("failed to add member %d: %v", id, err)
		}
	}
	return room.ID
}

func countMessages(t *testing.T, st store.Store, roomID int64) int {
	t.Helper()

	page, err := st.ListRoomMessages(context.Background(), roomID, store.PageRequest{Page: 1})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return page.Pagination.TotalItems
}

// tokenVerifier accepts tokens of the form registered in its map.
type tokenVerifier map[string]int64

var errBadToken = errors.New("invalid token")

func (v tokenVerifier) Verify(_ context.Context, token string) (int64, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return 0, errBadToken
}

func (tokenVerifier) IsCredentialError(err error) bool {
	return errors.Is(err, errBadToken)
}

// brokenVerifier cannot reach its user store.
type brokenVerifier struct{}

var errStoreDown = errors.New("lookup user: database is locked")

func (brokenVerifier) Verify(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

func (brokenVerifier) IsCredentialError(error) bool {
	return false
}

// leaveOnce removes a user from a room the first time a store call is
// intercepted, the way rooms.Service does: delete the row, then unsubscribe
// the live client.
type leaveOnce struct {
	store.Store
	registry *Registry
	roomID   int64
	userID   int64
	done     bool
}

func (s *leaveOnce) leave(ctx context.Context) {
	if s.done || s.registry == nil {
		return
	}
	s.done = true
	if err := s.Store.RemoveMember(ctx, s.roomID, s.userID); err != nil {
		panic(err)
	}
	s.registry.UnsubscribeUser(s.userID, s.roomID)
}

// leaveAfterSnapshot removes the member right after Connect read its rooms.
type leaveAfterSnapshot struct {
	*leaveOnce
}

func (s leaveAfterSnapshot) ListRoomIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.Store.ListRoomIDsForUser(ctx, userID)
	if userID == s.userID {
		s.leave(ctx)
	}
	return ids, err
}

// leaveAfterCheck removes the member right after a membership check passed.
type leaveAfterCheck struct {
	*leaveOnce
}

func (s leaveAfterCheck) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	ok, err := s.Store.IsMember(ctx, roomID, userID)
	if roomID == s.roomID && userID == s.userID {
		s.leave(ctx)
	}
	return ok, err
}

// failingStore rejects every message write.
type failingStore struct {
	store.Store
}

var errDiskFull = errors.New("disk full")

func (failingStore) CreateMessage(context.Context, *store.Message) error {
	return errDiskFull
}

func (failingStore) UpdateMessage(context.Context, int64, func(*store.Message) error) (*store.Message, error) {
	return nil, errDiskFull
}
