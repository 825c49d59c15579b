package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "userID"
	ctxRole   = "userRole"
)

// Middleware validates the bearer token and stores the authenticated user id
// and role in the gin context.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			c.Abort()
			return
		}

		userID, role, err := svc.VerifyToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, string(role))
		c.Next()
	}
}

// UserID extracts the authenticated user id set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// UserRole extracts the authenticated user role set by Middleware.
func UserRole(c *gin.Context) Role {
	return Role(c.GetString(ctxRole))
}

// extractToken extracts the Bearer token from the Authorization header.
func extractToken(c *gin.Context) string {
	bearerToken := c.GetHeader("Authorization")
	if len(bearerToken) > 7 && strings.HasPrefix(bearerToken, "Bearer ") {
		return bearerToken[7:]
	}
	return ""
}
