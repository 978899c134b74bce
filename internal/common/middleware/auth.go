package middleware

import (
	"github.com/gin-gonic/gin"

	"raffle-ledger-backend/internal/common/config"
	apperrors "raffle-ledger-backend/internal/common/errors"
)

func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			RespondError(c, apperrors.NewUnauthorizedError("Telegram init data required"))
			return
		}
		c.Next()
	}
}

// RequireAdmin admits users listed in ADMIN_IDS.
func RequireAdmin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			RespondError(c, apperrors.NewUnauthorizedError("Telegram init data required"))
			return
		}
		if !cfg.IsAdmin(id) {
			RespondError(c, apperrors.NewForbiddenError("admin access required"))
			return
		}
		c.Next()
	}
}
