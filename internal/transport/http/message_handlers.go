package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/proto"
)

// MessageHandlers serves direct history and REST edits. Edits and deletes go
// through the router, so live sessions see them exactly as if they came over
// a WebSocket.
type MessageHandlers struct {
	hub *core.Hub
	log *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(hub *core.Hub, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{hub: hub, log: logger}
}

// EditMessageRequest represents the edit request body.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// DirectHistory returns one page of the conversation with another user.
// GET /api/messages/history/:userId?page=&per_page=
func (h *MessageHandlers) DirectHistory(c *gin.Context, uid int64) {
	peerID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	page, ok := pageRequest(c)
	if !ok {
		return
	}

	res, err := h.hub.Router().DirectHistory(c.Request.Context(), uid, peerID, page)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewMessagePage(res))
}

// EditMessage replaces the content of one of the user's messages.
// PUT /api/messages/:id
func (h *MessageHandlers) EditMessage(c *gin.Context, uid int64) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	msg, err := h.hub.Router().Edit(c.Request.Context(), h.actor(uid), messageID, req.Content)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewMessage(msg))
}

// DeleteMessage soft deletes one of the user's messages.
// DELETE /api/messages/:id
func (h *MessageHandlers) DeleteMessage(c *gin.Context, uid int64) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := h.hub.Router().Delete(c.Request.Context(), h.actor(uid), messageID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewMessage(msg))
}

// actor builds the acting identity for a REST call. The user's live
// connection, if any, gets the acknowledgment.
func (h *MessageHandlers) actor(uid int64) core.Actor {
	actor := core.Actor{UserID: uid}
	if c, ok := h.hub.Registry().Lookup(uid); ok {
		actor.Client = c
	}
	return actor
}
