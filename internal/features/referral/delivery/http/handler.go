package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/middleware"
	"raffle-ledger-backend/internal/features/referral/models"
	referralservice "raffle-ledger-backend/internal/features/referral/service"
)

type ReferralHandler struct {
	service referralservice.ReferralService
}

func NewReferralHandler(service referralservice.ReferralService) *ReferralHandler {
	return &ReferralHandler{service: service}
}

func (h *ReferralHandler) RegisterRoutes(router *gin.RouterGroup, g middleware.Guards) {
	referrals := router.Group("/referrals", g.Auth)
	{
		referrals.POST("", h.register)
		referrals.GET("/me", h.list)
		referrals.GET("/me/milestones", h.milestones)
		referrals.POST("/me/code", h.code)
	}
}

// @Summary Register as referred
// @Description Links the caller to the owner of a referral code. The referrer is rewarded after the caller's first purchase
// @Tags referrals
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param input body models.RegisterRequest true "Referral code"
// @Success 201 {object} models.Record
// @Failure 400 {object} middleware.ErrorResponse "Self referral"
// @Failure 404 {object} middleware.ErrorResponse "Unknown code"
// @Failure 409 {object} middleware.ErrorResponse "Already referred"
// @Router /referrals [post]
func (h *ReferralHandler) register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.NewValidationError("code", "is required"))
		return
	}
	userID, _ := middleware.UserID(c)
	record, err := h.service.RegisterByCode(c.Request.Context(), userID, req.Code)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// @Summary My referrals
// @Tags referrals
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} models.Record
// @Router /referrals/me [get]
func (h *ReferralHandler) list(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	records, err := h.service.ListByReferrer(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	if records == nil {
		records = []*models.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// @Summary My referral milestones
// @Tags referrals
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} models.Summary
// @Router /referrals/me/milestones [get]
func (h *ReferralHandler) milestones(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	summary, err := h.service.Milestones(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Get my referral code
// @Description Issues a code on first call and returns the same code afterwards
// @Tags referrals
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} models.Code
// @Router /referrals/me/code [post]
func (h *ReferralHandler) code(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	code, err := h.service.IssueCode(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}
