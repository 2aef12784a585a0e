package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenVerifier is what the auth middleware needs from the token store.
type TokenVerifier interface {
	Verify(plain string) bool
}

// TokenRequired gates a route group on the bearer token. HTTP clients
// send it as "Authorization: Bearer <token>"; the WebSocket endpoints do
// their own query-param check before upgrading.
func TokenRequired(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !tokens.Verify(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid token",
			})
			return
		}
		c.Next()
	}
}
