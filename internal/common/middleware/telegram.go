package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"raffle-ledger-backend/internal/common/config"
	apperrors "raffle-ledger-backend/internal/common/errors"
)

const (
	initDataHeader  = "X-Telegram-Init-Data"
	debugUserHeader = "X-Debug-User-ID"
)

// TelegramInitData authenticates the request from signed Mini App init data,
// read from the X-Telegram-Init-Data header or the legacy init_data header.
// Missing init data leaves the request anonymous; RequireAuth rejects it.
//
// With DEBUG on and no BOT_TOKEN configured, X-Debug-User-ID is trusted so
// the API can be driven locally without Telegram.
func TelegramInitData(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(initDataHeader)
		if raw == "" {
			raw = c.GetHeader("init_data")
		}

		if raw == "" {
			if cfg.Debug && cfg.Telegram.BotToken == "" {
				if id, err := strconv.ParseInt(c.GetHeader(debugUserHeader), 10, 64); err == nil && id > 0 {
					SetUser(c, initdata.User{ID: id})
				}
			}
			c.Next()
			return
		}

		if cfg.Telegram.BotToken == "" {
			log.Error().Msg("BOT_TOKEN not configured, cannot validate init data")
			RespondError(c, apperrors.New(apperrors.ErrCodeInternal, "Server configuration error"))
			return
		}

		if err := initdata.Validate(raw, cfg.Telegram.BotToken, cfg.Telegram.InitDataTTL); err != nil {
			log.Debug().Err(err).Msg("Init data validation failed")
			RespondError(c, apperrors.NewUnauthorizedError("invalid init data"))
			return
		}

		parsed, err := initdata.Parse(raw)
		if err != nil {
			RespondError(c, apperrors.NewUnauthorizedError("malformed init data"))
			return
		}
		if parsed.User.ID <= 0 {
			RespondError(c, apperrors.NewUnauthorizedError("init data has no user"))
			return
		}

		SetUser(c, parsed.User)
		c.Next()
	}
}
