package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/session"
	"signalcraft-client/internal/shared/server/respond"
)

const (
	userIDKey   = "userId"
	usernameKey = "username"
	isDemoKey   = "isDemo"
	deviceIDKey = "deviceId"
)

// Identity is the session view the middleware needs.
type Identity interface {
	User() (session.User, bool)
	IsDemo() bool
}

// RequireSession rejects requests unless an operator is logged in.
func RequireSession(id Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		user, ok := id.User()
		if !ok {
			respond.Error(c, http.StatusUnauthorized, analysis.ErrorCodeUnauthorized, "login required", nil)
			return
		}
		c.Set(userIDKey, user.ID)
		c.Set(usernameKey, user.Username)
		c.Set(isDemoKey, id.IsDemo())
		c.Next()
	}
}

// DeviceID records the :id path parameter for logging and rate limiting.
func DeviceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id != "" {
			c.Set(deviceIDKey, id)
		}
		c.Next()
	}
}

// UsernameFromContext fetches the username set by RequireSession.
func UsernameFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(usernameKey)
}

// DeviceIDFromContext fetches the device id set by DeviceID.
func DeviceIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(deviceIDKey)
}
