// internal/handler/ticket_handler.go
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ticket-service/internal/model"
	"ticket-service/internal/repository"
	"ticket-service/internal/service"
	"ticket-service/internal/utils"
)

// TicketHandler handles ticket-related HTTP requests
type TicketHandler struct {
	ticketService *service.TicketService
	logger        *utils.ServiceLogger
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(ticketService *service.TicketService, logger *zap.Logger) *TicketHandler {
	return &TicketHandler{
		ticketService: ticketService,
		logger:        utils.NewServiceLogger(logger, "ticket-handler"),
	}
}

// RegisterRoutes registers ticket routes
func (h *TicketHandler) RegisterRoutes(router *gin.RouterGroup) {
	tickets := router.Group("/tickets")
	{
		tickets.POST("", h.CreateTicket)
		tickets.GET("", h.ListTickets)
		tickets.GET("/stats", h.GetStats)
		tickets.GET("/token/:token", h.GetTicketByToken)
		tickets.GET("/:id", h.GetTicket)
	}
}

// CreateTicket issues a new ticket
// @Summary Issue a ticket
// @Description Store a new unused ticket. A token is generated when none is given.
// @Tags Tickets
// @Accept json
// @Produce json
// @Param request body model.Ticket true "Ticket to issue"
// @Success 201 {object} utils.APIResponse{data=model.Ticket} "Ticket issued"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Token already exists"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /tickets [post]
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var ticket model.Ticket
	if err := c.ShouldBindJSON(&ticket); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.ticketService.CreateTicket(c.Request.Context(), &ticket)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateToken) {
			utils.ErrorResponse(c, http.StatusConflict, "Ticket token already exists", err)
			return
		}
		h.logger.Error("Failed to issue ticket", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to issue ticket", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Ticket issued successfully", created)
}

// GetTicket returns a ticket by id
// @Summary Get ticket
// @Tags Tickets
// @Produce json
// @Param id path int true "Ticket ID"
// @Success 200 {object} utils.APIResponse{data=model.Ticket} "Ticket found"
// @Failure 400 {object} utils.APIResponse "Invalid ticket id"
// @Failure 404 {object} utils.APIResponse "Ticket not found"
// @Router /tickets/{id} [get]
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid ticket id", err)
		return
	}

	ticket, err := h.ticketService.GetTicket(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ticket retrieved successfully", ticket)
}

// GetTicketByToken returns a ticket by its token
// @Summary Get ticket by token
// @Tags Tickets
// @Produce json
// @Param token path string true "Ticket token"
// @Success 200 {object} utils.APIResponse{data=model.Ticket} "Ticket found"
// @Failure 404 {object} utils.APIResponse "Ticket not found"
// @Router /tickets/token/{token} [get]
func (h *TicketHandler) GetTicketByToken(c *gin.Context) {
	ticket, err := h.ticketService.GetTicketByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.lookupError(c, err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ticket retrieved successfully", ticket)
}

// ListTickets lists tickets with filtering and pagination
// @Summary List tickets
// @Tags Tickets
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param used query bool false "Filter by used flag"
// @Param type query string false "Filter by ticket type"
// @Success 200 {object} utils.APIResponse{data=[]model.Ticket} "Tickets retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid filter"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /tickets [get]
func (h *TicketHandler) ListTickets(c *gin.Context) {
	filter := &repository.TicketFilter{
		Type: c.Query("type"),
	}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil {
			filter.PerPage = pp
		}
	}
	if used := c.Query("used"); used != "" {
		u, err := strconv.ParseBool(used)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid used filter", err)
			return
		}
		filter.Used = &u
	}

	tickets, total, err := h.ticketService.ListTickets(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list tickets", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list tickets", err)
		return
	}

	utils.PagedResponse(c, "Tickets retrieved successfully", tickets, utils.PageMeta{
		Page:    filter.Page,
		PerPage: filter.PerPage,
		Total:   total,
	})
}

// GetStats returns usage counts
// @Summary Ticket statistics
// @Tags Tickets
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.TicketStats} "Statistics"
// @Failure 500 {object} utils.APIResponse "Internal server error"
// @Router /tickets/stats [get]
func (h *TicketHandler) GetStats(c *gin.Context) {
	stats, err := h.ticketService.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute ticket stats", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to compute ticket stats", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ticket statistics retrieved", stats)
}

func (h *TicketHandler) lookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrTicketNotFound) {
		utils.ErrorResponse(c, http.StatusNotFound, "Ticket not found", err)
		return
	}
	h.logger.Error("Failed to get ticket", zap.Error(err))
	utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get ticket", err)
}
