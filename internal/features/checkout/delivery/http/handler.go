package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/middleware"
	"raffle-ledger-backend/internal/features/checkout/models"
	checkoutservice "raffle-ledger-backend/internal/features/checkout/service"
)

type CheckoutHandler struct {
	service checkoutservice.CheckoutService
}

func NewCheckoutHandler(service checkoutservice.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

func (h *CheckoutHandler) RegisterRoutes(router *gin.RouterGroup, g middleware.Guards) {
	router.POST("/raffles/:id/purchase", g.Auth, h.purchase)
	router.POST("/reservations/:handle/commit", g.Auth, h.settle)
}

// @Summary Buy tickets
// @Description Reserves, charges and commits in one call. On payment failure the tickets are released
// @Tags tickets
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Param input body models.PurchaseRequest true "Quantity"
// @Success 201 {object} models.Receipt
// @Failure 400 {object} middleware.ErrorResponse "Invalid quantity"
// @Failure 402 {object} middleware.ErrorResponse "Payment declined"
// @Failure 409 {object} middleware.ErrorResponse "Not enough tickets remain"
// @Failure 503 {object} middleware.ErrorResponse "Payment did not complete in time"
// @Router /raffles/{id}/purchase [post]
func (h *CheckoutHandler) purchase(c *gin.Context) {
	var req models.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.New(apperrors.ErrCodeInvalidQuantity, "Quantity is required"))
		return
	}
	userID, _ := middleware.UserID(c)
	receipt, err := h.service.Purchase(c.Request.Context(), userID, c.Param("id"), req.Quantity)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// @Summary Commit reservation
// @Description Settles a held reservation with an external payment reference. The transaction must be a live gateway charge made by the caller for this reservation's handle and total, otherwise the call fails with 402. Repeating the call with the same transaction returns the same purchase
// @Tags tickets
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param handle path string true "Reservation handle"
// @Param input body models.SettleRequest true "Payment reference"
// @Success 200 {object} models.Receipt
// @Failure 402 {object} middleware.ErrorResponse "Transaction not verified"
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 410 {object} middleware.ErrorResponse "Reservation expired"
// @Router /reservations/{handle}/commit [post]
func (h *CheckoutHandler) settle(c *gin.Context) {
	var req models.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.NewValidationError("transaction_id", "is required"))
		return
	}
	userID, _ := middleware.UserID(c)
	receipt, err := h.service.Settle(c.Request.Context(), userID, c.Param("handle"), req.TransactionID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
