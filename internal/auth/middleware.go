package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/byosamah/volteria-sub000/internal/database"
)

// AuthMiddleware rejects requests without a live session and stores the
// user under "user".
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := userFromRequest(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the user holds at least min.
func RequireRole(min database.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := RequireUser(c)
		if !ok {
			c.Abort()
			return
		}
		if !user.Role.AtLeast(min) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient privileges"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetCurrentUser returns the current authenticated user
func GetCurrentUser(c *gin.Context) *database.User {
	if user, exists := c.Get("user"); exists {
		if u, ok := user.(*database.User); ok {
			return u
		}
	}
	return nil
}

// GetCurrentUserID returns the current user's ID, or nil when anonymous.
func GetCurrentUserID(c *gin.Context) *uuid.UUID {
	if user := GetCurrentUser(c); user != nil {
		id := user.ID
		return &id
	}
	return nil
}

// RequireUser ensures a user is authenticated and returns it
func RequireUser(c *gin.Context) (*database.User, bool) {
	user := GetCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}
	return user, true
}

// EnterpriseScope returns the enterprise a non-admin user is confined to,
// or nil for admins.
func EnterpriseScope(user *database.User) *uuid.UUID {
	if user == nil || user.IsAdmin() {
		return nil
	}
	if user.EnterpriseID == nil {
		// Unscoped non-admins see nothing.
		nilScope := uuid.Nil
		return &nilScope
	}
	return user.EnterpriseID
}

// RequireEnterpriseAccess writes 404 and returns false when the record's
// enterprise is outside the user's scope.
func RequireEnterpriseAccess(c *gin.Context, user *database.User, enterpriseID *uuid.UUID) bool {
	if user.CanAccessEnterprise(enterpriseID) {
		return true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	return false
}
