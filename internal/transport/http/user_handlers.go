package http

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/store"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.Store, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store: st,
		log:   logger,
	}
}

const (
	maxFullNameLength = 100
	maxBioLength      = 500
)

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email"`
	FullName  *string   `json:"fullName"`
	Bio       *string   `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toUserResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		Bio:       u.Bio,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// UpdateProfileRequest represents the profile update body. Omitted fields
// are left unchanged.
type UpdateProfileRequest struct {
	FullName *string `json:"fullName"`
	Bio      *string `json:"bio"`
}

// UpdateProfile changes the caller's full name and/or bio.
// PUT /api/users/me
func (h *UserHandlers) UpdateProfile(c *gin.Context, uid int64) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}
	if req.FullName == nil && req.Bio == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "at least one of fullName or bio must be provided", Code: core.ErrCodeBadRequest})
		return
	}

	update := store.ProfileUpdate{FullName: trimmed(req.FullName), Bio: trimmed(req.Bio)}
	if update.FullName != nil && utf8.RuneCountInString(*update.FullName) > maxFullNameLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "full name is too long", Code: core.ErrCodeBadRequest})
		return
	}
	if update.Bio != nil && utf8.RuneCountInString(*update.Bio) > maxBioLength {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bio is too long", Code: core.ErrCodeBadRequest})
		return
	}

	user, err := h.store.UpdateProfile(c.Request.Context(), uid, update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, h.log, core.ErrUserNotFound)
			return
		}
		writeError(c, h.log, core.Wrap(core.ErrPersistence, err))
		return
	}

	h.log.Info().Int64("user_id", uid).Msg("profile updated")
	c.JSON(http.StatusOK, toUserResponse(user))
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// SearchUsers handles searching for users.
// GET /api/users/search?q=query
func (h *UserHandlers) SearchUsers(c *gin.Context, uid int64) {
	trimmed := strings.TrimSpace(c.Query("q"))
	if len(trimmed) < 3 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query must be at least 3 characters", Code: core.ErrCodeBadRequest})
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), trimmed)
	if err != nil {
		h.log.Error().Err(err).Str("query", trimmed).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		if u.ID == uid {
			continue
		}
		response = append(response, toUserResponse(u))
	}

	c.JSON(http.StatusOK, response)
}
