package proto

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ychat20/ychat-server/internal/store"
)

func TestMessageWireShape(t *testing.T) {
	receiver := int64(2)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &store.Message{ID: 1, SenderID: 1, ReceiverID: &receiver, Content: "hi", CreatedAt: created}

	data, err := json.Marshal(NewMessage(msg))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	for _, want := range []string{
		`"receiverId":2`,
		`"roomId":null`,
		`"editedAt":null`,
		`"deletedAt":null`,
		`"isEdited":false`,
		`"isDeleted":false`,
		`"timestamp":"2024-01-02T03:04:05Z"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %s in %s", want, got)
		}
	}
}

func TestDeletedMessageIsMasked(t *testing.T) {
	deleted := time.Now().UTC()
	edited := deleted.Add(-time.Minute)
	room := int64(5)
	msg := &store.Message{ID: 1, SenderID: 1, RoomID: &room, Content: "secret", EditedAt: &edited, DeletedAt: &deleted}

	out := NewMessage(msg)
	if out.Content != DeletedContent || !out.IsDeleted || !out.IsEdited {
		t.Fatalf("unexpected wire message: %+v", out)
	}
	if msg.Content != "secret" {
		t.Fatalf("masking must not touch the stored message")
	}
}
