package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/middleware"
	"raffle-ledger-backend/internal/features/inventory/models"
	inventoryservice "raffle-ledger-backend/internal/features/inventory/service"
)

type LedgerHandler struct {
	ledger inventoryservice.LedgerService
}

func NewLedgerHandler(ledger inventoryservice.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

func (h *LedgerHandler) RegisterRoutes(router *gin.RouterGroup, g middleware.Guards) {
	raffles := router.Group("/raffles/:id")
	{
		raffles.GET("/inventory", g.Cached(), h.inventory)
		raffles.GET("/odds", g.Cached(), h.odds)
		raffles.POST("/reservations", g.Auth, h.reserve)
	}

	reservations := router.Group("/reservations", g.Auth)
	{
		reservations.GET("/:handle", h.getReservation)
		reservations.POST("/:handle/release", h.release)
	}

	router.GET("/users/me/purchases", g.Auth, h.myPurchases)

	admin := router.Group("/admin", g.Auth, g.Admin)
	{
		admin.GET("/raffles/:id/purchases", h.rafflePurchases)
		admin.POST("/purchases/:id/refund", h.refund)
	}
}

// @Summary Get ticket inventory
// @Tags tickets
// @Produce json
// @Param id path string true "Raffle ID"
// @Success 200 {object} models.Inventory
// @Failure 404 {object} middleware.ErrorResponse
// @Router /raffles/{id}/inventory [get]
func (h *LedgerHandler) inventory(c *gin.Context) {
	inv, err := h.ledger.Inventory(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// @Summary Win odds
// @Description Without quantity returns the odds table; with quantity the odds for that purchase
// @Tags tickets
// @Produce json
// @Param id path string true "Raffle ID"
// @Param quantity query int false "Tickets to buy"
// @Success 200 {array} models.Odds
// @Failure 404 {object} middleware.ErrorResponse
// @Router /raffles/{id}/odds [get]
func (h *LedgerHandler) odds(c *gin.Context) {
	ctx := c.Request.Context()
	raw := c.Query("quantity")
	if raw == "" {
		table, err := h.ledger.OddsTable(ctx, c.Param("id"))
		if err != nil {
			middleware.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, table)
		return
	}

	quantity, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		middleware.RespondError(c, apperrors.New(apperrors.ErrCodeInvalidQuantity, "Quantity must be a whole number"))
		return
	}
	p, err := h.ledger.ComputeOdds(ctx, c.Param("id"), quantity)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	row := models.Odds{Quantity: quantity, Probability: p}
	if p > 0 {
		row.OneIn = 1 / p
	}
	c.JSON(http.StatusOK, []models.Odds{row})
}

// @Summary Reserve tickets
// @Description Holds tickets for the hold window while the client pays
// @Tags tickets
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Param input body models.ReserveRequest true "Quantity"
// @Success 201 {object} models.Reservation
// @Failure 400 {object} middleware.ErrorResponse "Invalid quantity"
// @Failure 409 {object} middleware.ErrorResponse "Not enough tickets remain"
// @Failure 422 {object} middleware.ErrorResponse "Raffle is not active"
// @Router /raffles/{id}/reservations [post]
func (h *LedgerHandler) reserve(c *gin.Context) {
	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, apperrors.New(apperrors.ErrCodeInvalidQuantity, "Quantity is required"))
		return
	}
	userID, _ := middleware.UserID(c)
	res, err := h.ledger.Reserve(c.Request.Context(), c.Param("id"), userID, req.Quantity)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// @Summary Get reservation
// @Tags tickets
// @Produce json
// @Security TelegramInitData
// @Param handle path string true "Reservation handle"
// @Success 200 {object} models.Reservation
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /reservations/{handle} [get]
func (h *LedgerHandler) getReservation(c *gin.Context) {
	res, err := h.ownedReservation(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Release reservation
// @Description Returns held tickets to the pool. Releasing twice is a no-op
// @Tags tickets
// @Security TelegramInitData
// @Param handle path string true "Reservation handle"
// @Success 204
// @Failure 403 {object} middleware.ErrorResponse
// @Router /reservations/{handle}/release [post]
func (h *LedgerHandler) release(c *gin.Context) {
	res, err := h.ownedReservation(c)
	if err == nil {
		err = h.ledger.Release(c.Request.Context(), res.Handle)
	}
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LedgerHandler) ownedReservation(c *gin.Context) (*models.Reservation, error) {
	res, err := h.ledger.GetReservation(c.Request.Context(), c.Param("handle"))
	if err != nil {
		return nil, err
	}
	userID, _ := middleware.UserID(c)
	if res.UserID != userID {
		return nil, apperrors.NewForbiddenError("reservation belongs to another user")
	}
	return res, nil
}

// @Summary My purchases
// @Tags tickets
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} models.TicketPurchase
// @Router /users/me/purchases [get]
func (h *LedgerHandler) myPurchases(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	purchases, err := h.ledger.ListUserPurchases(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	respondPurchases(c, purchases)
}

// @Summary List raffle purchases
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Success 200 {array} models.TicketPurchase
// @Router /admin/raffles/{id}/purchases [get]
func (h *LedgerHandler) rafflePurchases(c *gin.Context) {
	purchases, err := h.ledger.ListRafflePurchases(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	respondPurchases(c, purchases)
}

// @Summary Refund purchase
// @Description Refunds one completed purchase and returns its tickets to the pool
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Purchase ID"
// @Success 200 {object} models.TicketPurchase
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse "Payment gateway unavailable"
// @Router /admin/purchases/{id}/refund [post]
func (h *LedgerHandler) refund(c *gin.Context) {
	purchase, err := h.ledger.RefundPurchase(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func respondPurchases(c *gin.Context, purchases []*models.TicketPurchase) {
	if purchases == nil {
		purchases = []*models.TicketPurchase{}
	}
	c.JSON(http.StatusOK, purchases)
}
