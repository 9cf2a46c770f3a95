package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAuth returns a middleware that requires a valid operator token.
// Requests without one are answered with 401 Unauthorized.
func RequireAuth(authService *AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authCtx, err := authService.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			slog.Warn("authentication required but not provided",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"reason", err,
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}

		c.Request = c.Request.WithContext(WithAuthContext(c.Request.Context(), authCtx))
		slog.Debug("auth context injected successfully", "operator", authCtx.Operator)
		c.Next()
	}
}
