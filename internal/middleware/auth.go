package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/auth"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// AuthMiddleware validates the bearer token from the Authorization header, or
// the access token cookie when no header is sent.
func AuthMiddleware(verifier TokenVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
				return
			}
			token = strings.TrimSpace(parts[1])
		} else if cookie, err := c.Cookie(cookieName); err == nil {
			token = cookie
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, claims.ID)
		c.Next()
	}
}
