package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/middleware"
	"raffle-ledger-backend/internal/features/loyalty/models"
	loyaltyservice "raffle-ledger-backend/internal/features/loyalty/service"
)

type LoyaltyHandler struct {
	service loyaltyservice.LoyaltyService
}

func NewLoyaltyHandler(service loyaltyservice.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{service: service}
}

func (h *LoyaltyHandler) RegisterRoutes(router *gin.RouterGroup, g middleware.Guards) {
	router.GET("/loyalty/tiers", h.tiers)

	me := router.Group("/loyalty/me", g.Auth)
	{
		me.GET("", h.account)
		me.GET("/progress", h.progress)
		me.GET("/history", h.history)
		me.GET("/achievements", h.achievements)
		me.POST("/redeem", h.redeem)
	}

	router.POST("/admin/loyalty/grants", g.Auth, g.Admin, h.grant)
}

// TierInfo describes one loyalty tier.
type TierInfo struct {
	Tier       models.Tier `json:"tier"`
	Threshold  int64       `json:"threshold"`
	Multiplier string      `json:"multiplier"`
	Perks      []string    `json:"perks"`
}

// @Summary List loyalty tiers
// @Tags loyalty
// @Produce json
// @Success 200 {array} TierInfo
// @Router /loyalty/tiers [get]
func (h *LoyaltyHandler) tiers(c *gin.Context) {
	tiers := models.Tiers()
	out := make([]TierInfo, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, TierInfo{
			Tier:       t,
			Threshold:  t.Threshold(),
			Multiplier: t.Multiplier().String(),
			Perks:      t.Perks(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// @Summary My loyalty account
// @Tags loyalty
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} models.Account
// @Router /loyalty/me [get]
func (h *LoyaltyHandler) account(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	account, err := h.service.Account(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// @Summary My tier progress
// @Tags loyalty
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} models.Progress
// @Router /loyalty/me/progress [get]
func (h *LoyaltyHandler) progress(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	progress, err := h.service.Progress(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// @Summary My points history
// @Description Grants and redemptions, newest first
// @Tags loyalty
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} models.HistoryEntry
// @Router /loyalty/me/history [get]
func (h *LoyaltyHandler) history(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	history, err := h.service.History(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	c.JSON(http.StatusOK, history)
}

// @Summary My achievements
// @Tags loyalty
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} models.Achievement
// @Router /loyalty/me/achievements [get]
func (h *LoyaltyHandler) achievements(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	achievements, err := h.service.Achievements(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, achievements)
}

// @Summary Redeem points
// @Tags loyalty
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param input body models.RedeemRequest true "Points to redeem"
// @Success 200 {object} models.Account
// @Failure 400 {object} middleware.ErrorResponse "Invalid amount"
// @Failure 422 {object} middleware.ErrorResponse "Not enough points"
// @Router /loyalty/me/redeem [post]
func (h *LoyaltyHandler) redeem(c *gin.Context) {
	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.New(apperrors.ErrCodeInvalidAmount, "Amount is required"))
		return
	}
	userID, _ := middleware.UserID(c)
	account, err := h.service.RedeemPoints(c.Request.Context(), userID, req.Amount)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// @Summary Grant points
// @Description Manual adjustment. A repeated reference is applied once
// @Tags admin
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param input body models.GrantRequest true "Grant"
// @Success 200 {object} models.GrantResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /admin/loyalty/grants [post]
func (h *LoyaltyHandler) grant(c *gin.Context) {
	var req models.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.Wrap(err, apperrors.ErrCodeValidation, "Invalid grant body"))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = models.ReasonAdjustment
	}
	result, err := h.service.GrantPoints(c.Request.Context(), req.UserID, req.Amount, reason, req.Reference)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
