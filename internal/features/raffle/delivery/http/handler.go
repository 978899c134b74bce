package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "raffle-ledger-backend/internal/common/errors"
	"raffle-ledger-backend/internal/common/middleware"
	"raffle-ledger-backend/internal/features/raffle/mapper"
	"raffle-ledger-backend/internal/features/raffle/models"
	raffleservice "raffle-ledger-backend/internal/features/raffle/service"
)

const maxPageSize = 100

type RaffleHandler struct {
	service raffleservice.RaffleService
	now     func() time.Time
}

func NewRaffleHandler(service raffleservice.RaffleService) *RaffleHandler {
	return &RaffleHandler{service: service, now: time.Now}
}

func (h *RaffleHandler) RegisterRoutes(router *gin.RouterGroup, g middleware.Guards) {
	raffles := router.Group("/raffles")
	{
		raffles.GET("", g.Cached(), h.list)
		raffles.GET("/categories", h.categories)
		raffles.GET("/:id", g.Cached(), h.getByID)
		raffles.GET("/:id/winner", g.Cached(), h.getWinner)
	}

	router.GET("/users/me/wins", g.Auth, h.myWins)

	admin := router.Group("/admin/raffles", g.Auth, g.Admin)
	{
		admin.GET("", h.adminList)
		admin.POST("", h.create)
		admin.GET("/:id", h.adminGet)
		admin.PUT("/:id", h.update)
		admin.POST("/:id/publish", h.publish)
		admin.POST("/:id/close", h.close)
		admin.POST("/:id/draw", h.draw)
		admin.POST("/:id/cancel", h.cancel)
	}
}

// @Summary List raffles
// @Description Lists published raffles, newest first, optionally filtered by status and category
// @Tags raffles
// @Produce json
// @Param status query string false "active, closed, drawn or cancelled"
// @Param category query string false "Prize category"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {array} mapper.RaffleResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /raffles [get]
func (h *RaffleHandler) list(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	if filter.Status == models.StatusDraft {
		c.JSON(http.StatusOK, []*mapper.RaffleResponse{})
		return
	}
	filter.Published = true
	h.respondList(c, filter)
}

// @Summary List raffles (admin)
// @Description Lists all raffles including drafts
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param status query string false "Raffle status"
// @Param category query string false "Prize category"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {array} mapper.RaffleResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Router /admin/raffles [get]
func (h *RaffleHandler) adminList(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	h.respondList(c, filter)
}

func (h *RaffleHandler) respondList(c *gin.Context, filter models.RaffleFilter) {
	raffles, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToRaffleResponses(raffles, h.now()))
}

// @Summary List prize categories
// @Tags raffles
// @Produce json
// @Success 200 {array} string
// @Router /raffles/categories [get]
func (h *RaffleHandler) categories(c *gin.Context) {
	c.JSON(http.StatusOK, models.Categories())
}

// @Summary Get raffle
// @Tags raffles
// @Produce json
// @Param id path string true "Raffle ID"
// @Success 200 {object} mapper.RaffleResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /raffles/{id} [get]
func (h *RaffleHandler) getByID(c *gin.Context) {
	raffle, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err == nil && raffle.Status == models.StatusDraft {
		err = apperrors.NewNotFoundError("Raffle", c.Param("id"))
	}
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToRaffleResponse(raffle, h.now()))
}

// @Summary Get raffle (admin)
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Success 200 {object} mapper.RaffleResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /admin/raffles/{id} [get]
func (h *RaffleHandler) adminGet(c *gin.Context) {
	raffle, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToRaffleResponse(raffle, h.now()))
}

// @Summary Get raffle winner
// @Tags raffles
// @Produce json
// @Param id path string true "Raffle ID"
// @Success 200 {object} models.WinnerRecord
// @Failure 404 {object} middleware.ErrorResponse "Not drawn yet"
// @Router /raffles/{id}/winner [get]
func (h *RaffleHandler) getWinner(c *gin.Context) {
	winner, err := h.service.GetWinner(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, winner)
}

// @Summary List my wins
// @Tags raffles
// @Produce json
// @Security TelegramInitData
// @Success 200 {array} models.WinnerRecord
// @Router /users/me/wins [get]
func (h *RaffleHandler) myWins(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	wins, err := h.service.ListWins(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	if wins == nil {
		wins = []*models.WinnerRecord{}
	}
	c.JSON(http.StatusOK, wins)
}

// @Summary Create raffle draft
// @Tags admin
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param input body models.RaffleCreate true "Raffle draft"
// @Success 201 {object} mapper.RaffleResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /admin/raffles [post]
func (h *RaffleHandler) create(c *gin.Context) {
	var input models.RaffleCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		middleware.RespondError(c, apperrors.Wrap(err, apperrors.ErrCodeValidation, "Invalid raffle body"))
		return
	}
	adminID, _ := middleware.UserID(c)
	raffle, err := h.service.Create(c.Request.Context(), adminID, &input)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapper.ToRaffleResponse(raffle, h.now()))
}

// @Summary Update raffle draft
// @Tags admin
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Param input body models.RaffleUpdate true "Fields to change"
// @Success 200 {object} mapper.RaffleResponse
// @Failure 409 {object} middleware.ErrorResponse "Raffle is no longer a draft"
// @Router /admin/raffles/{id} [put]
func (h *RaffleHandler) update(c *gin.Context) {
	var input models.RaffleUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		middleware.RespondError(c, apperrors.Wrap(err, apperrors.ErrCodeValidation, "Invalid raffle body"))
		return
	}
	raffle, err := h.service.UpdateDraft(c.Request.Context(), c.Param("id"), &input)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToRaffleResponse(raffle, h.now()))
}

// @Summary Publish raffle
// @Description Opens a draft for ticket sales
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Success 200 {object} mapper.RaffleResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /admin/raffles/{id}/publish [post]
func (h *RaffleHandler) publish(c *gin.Context) {
	h.transition(c, h.service.Publish)
}

// @Summary Close raffle
// @Description Stops ticket sales and releases outstanding holds
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Success 200 {object} mapper.RaffleResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /admin/raffles/{id}/close [post]
func (h *RaffleHandler) close(c *gin.Context) {
	h.transition(c, h.service.Close)
}

func (h *RaffleHandler) transition(c *gin.Context, fn func(ctx context.Context, id string) (*models.Raffle, error)) {
	raffle, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.ToRaffleResponse(raffle, h.now()))
}

// @Summary Draw winner
// @Description Picks one sold ticket uniformly at random
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Success 200 {object} models.WinnerRecord
// @Failure 409 {object} middleware.ErrorResponse "Raffle is not closed"
// @Failure 422 {object} middleware.ErrorResponse "No tickets were sold"
// @Router /admin/raffles/{id}/draw [post]
func (h *RaffleHandler) draw(c *gin.Context) {
	winner, err := h.service.Draw(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, winner)
}

// @Summary Cancel raffle
// @Description Cancels the raffle and refunds every completed purchase
// @Tags admin
// @Produce json
// @Security TelegramInitData
// @Param id path string true "Raffle ID"
// @Success 200 {object} raffleservice.CancelResult
// @Failure 409 {object} middleware.ErrorResponse
// @Router /admin/raffles/{id}/cancel [post]
func (h *RaffleHandler) cancel(c *gin.Context) {
	result, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseFilter(c *gin.Context) (models.RaffleFilter, error) {
	filter := models.RaffleFilter{
		Status:   models.RaffleStatus(c.Query("status")),
		Category: models.Category(c.Query("category")),
		Limit:    20,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return filter, apperrors.NewValidationError("limit", "must be between 1 and 100")
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, apperrors.NewValidationError("offset", "must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
