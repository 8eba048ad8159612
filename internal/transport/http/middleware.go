package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ychat20/ychat-server/internal/auth"
	"github.com/ychat20/ychat-server/internal/core"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
)

// AuthMiddleware resolves the bearer token to an existing user and stores
// the user ID in the request context.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header", Code: core.ErrCodeUnauthorized})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format", Code: core.ErrCodeUnauthorized})
			return
		}

		userID, err := authService.Verify(c.Request.Context(), parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			if !authService.IsCredentialError(err) {
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: core.ErrCodeUnauthorized})
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// withIdentity adapts a handler that needs the authenticated user ID.
func withIdentity(logger *zerolog.Logger, next func(c *gin.Context, userID int64)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get(ContextKeyUserID)
		if !ok {
			logger.Error().Msg("user_id not found in context")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: core.ErrCodeUnauthorized})
			return
		}
		uid, ok := userID.(int64)
		if !ok {
			logger.Error().Msg("invalid user_id type in context")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		next(c, uid)
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
