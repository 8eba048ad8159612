package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/auth"
	"github.com/ychat20/ychat-server/internal/core"
	"github.com/ychat20/ychat-server/internal/store"
)

// APIHandlers provides HTTP handlers for the authentication endpoints.
type APIHandlers struct {
	authService *auth.Service
	store       store.Store
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, st store.Store, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		store:       st,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Register handles user registration.
// POST /api/auth/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		case errors.Is(err, auth.ErrEmailExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "email already registered"})
		case errors.Is(err, auth.ErrInvalidUsername):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username must be 3 to 30 letters, digits or underscores", Code: core.ErrCodeBadRequest})
		case errors.Is(err, auth.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid email address", Code: core.ErrCodeBadRequest})
		case errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: core.ErrCodeBadRequest})
		default:
			h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user registered successfully")
	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// Login handles user login.
// POST /api/auth/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials", Code: core.ErrCodeUnauthorized})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user logged in successfully")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Me returns the authenticated user.
// GET /api/auth/me
func (h *APIHandlers) Me(c *gin.Context, userID int64) {
	user, err := h.store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, h.log, core.ErrUserNotFound)
			return
		}
		writeError(c, h.log, core.Wrap(core.ErrPersistence, err))
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindAuth:
		return http.StatusUnauthorized
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindAuthorization:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error. Persistence failures hide their cause.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	ce := core.AsCoreError(err)
	status := statusFor(ce.Kind)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name, Code: core.ErrCodeBadRequest})
		return 0, false
	}
	return id, true
}

// pageRequest reads page and per_page query parameters. page defaults to 1;
// an unset per_page uses the store default.
func pageRequest(c *gin.Context) (store.PageRequest, bool) {
	req := store.PageRequest{Page: 1}
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, nil, core.ErrInvalidPage)
			return req, false
		}
		req.Page = n
	}
	if raw := c.Query("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, nil, core.ErrInvalidPage)
			return req, false
		}
		req.PerPage = n
	}
	return req, true
}
