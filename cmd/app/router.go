package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "raffle-ledger-backend/docs"
	"raffle-ledger-backend/internal/common/middleware"
	checkouthttp "raffle-ledger-backend/internal/features/checkout/delivery/http"
	inventoryhttp "raffle-ledger-backend/internal/features/inventory/delivery/http"
	loyaltyhttp "raffle-ledger-backend/internal/features/loyalty/delivery/http"
	rafflehttp "raffle-ledger-backend/internal/features/raffle/delivery/http"
	referralhttp "raffle-ledger-backend/internal/features/referral/delivery/http"
)

func (s *srv) router() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{s.cfg.Server.Origin}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Accept", "X-Telegram-Init-Data", "init_data", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-Cache"}
	router.Use(cors.New(corsConfig))

	guards := middleware.Guards{
		Auth:  middleware.RequireAuth(),
		Admin: middleware.RequireAdmin(s.cfg),
		Cache: middleware.ResponseCache(s.cache, s.cfg.Cache.TTL),
	}

	api := router.Group("/api/v1")
	api.Use(middleware.TelegramInitData(s.cfg), middleware.InvalidateResponses(s.cache))
	rafflehttp.NewRaffleHandler(s.raffles).RegisterRoutes(api, guards)
	inventoryhttp.NewLedgerHandler(s.ledger).RegisterRoutes(api, guards)
	checkouthttp.NewCheckoutHandler(s.checkout).RegisterRoutes(api, guards)
	loyaltyhttp.NewLoyaltyHandler(s.loyalty).RegisterRoutes(api, guards)
	referralhttp.NewReferralHandler(s.referral).RegisterRoutes(api, guards)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
			"storage":   s.cfg.Storage,
		})
	})

	router.GET("/live", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unready",
				"error":   "storage unavailable",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	})

	return router
}
