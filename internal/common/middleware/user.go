package middleware

import (
	"github.com/gin-gonic/gin"
	initdata "github.com/telegram-mini-apps/init-data-golang"
)

const (
	ctxRequestID = "request_id"
	ctxUserID    = "user_id"
	ctxUser      = "user"
)

// RequestIDFrom returns the request ID set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxRequestID); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return "unknown"
}

// UserID returns the authenticated Telegram user ID.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// TelegramUser returns the parsed init-data user, when present.
func TelegramUser(c *gin.Context) (initdata.User, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return initdata.User{}, false
	}
	u, ok := v.(initdata.User)
	return u, ok
}

// SetUser stores the authenticated user on the context.
func SetUser(c *gin.Context, user initdata.User) {
	c.Set(ctxUser, user)
	c.Set(ctxUserID, user.ID)
}
