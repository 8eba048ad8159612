package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/proto"
	"github.com/ychat20/ychat-server/internal/service/rooms"
	"github.com/ychat20/ychat-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	rooms  *rooms.Service
	router *core.Router
	log    *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(roomService *rooms.Service, router *core.Router, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms:  roomService,
		router: router,
		log:    logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// AddMemberRequest represents the add member request body.
type AddMemberRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatorID   int64     `json:"creatorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MemberResponse represents a room membership in API responses.
type MemberResponse struct {
	RoomID   int64     `json:"roomId"`
	UserID   int64     `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

func toRoomResponse(r *store.Room) RoomResponse {
	return RoomResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatorID:   r.CreatorID,
		CreatedAt:   r.CreatedAt,
	}
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context, uid int64) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), uid, req.Name, req.Description)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, toRoomResponse(room))
}

// ListRooms lists the rooms the user belongs to.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context, uid int64) {
	list, err := h.rooms.List(c.Request.Context(), uid)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	response := make([]RoomResponse, 0, len(list))
	for _, room := range list {
		response = append(response, toRoomResponse(room))
	}

	h.log.Debug().Int64("user_id", uid).Int("room_count", len(list)).Msg("rooms listed successfully")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns one room. Members only.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context, uid int64) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	room, err := h.rooms.Get(c.Request.Context(), uid, roomID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(room))
}

// AddMember adds a user to a room.
// POST /api/rooms/:id/members
func (h *RoomHandlers) AddMember(c *gin.Context, uid int64) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "userId is required", Code: core.ErrCodeBadRequest})
		return
	}

	member, err := h.rooms.AddMember(c.Request.Context(), uid, roomID, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, MemberResponse{
		RoomID:   member.RoomID,
		UserID:   member.UserID,
		JoinedAt: member.JoinedAt,
	})
}

// RemoveMember removes a user from a room.
// DELETE /api/rooms/:id/members/:userId
func (h *RoomHandlers) RemoveMember(c *gin.Context, uid int64) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	if err := h.rooms.RemoveMember(c.Request.Context(), uid, roomID, targetID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RoomMessages returns one page of room history.
// GET /api/rooms/:id/messages?page=&per_page=
func (h *RoomHandlers) RoomMessages(c *gin.Context, uid int64) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	page, ok := pageRequest(c)
	if !ok {
		return
	}

	res, err := h.router.RoomHistory(c.Request.Context(), uid, roomID, page)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewMessagePage(res))
}
