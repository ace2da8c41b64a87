package handler

import (
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/gin-gonic/gin"
)

// TicketHandler exposes a subscriber's own ticket balance and ledger
type TicketHandler struct {
	ticketService service.TicketService
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(ticketService service.TicketService) *TicketHandler {
	return &TicketHandler{ticketService: ticketService}
}

// GetBalance handles GET /tickets/balance
func (h *TicketHandler) GetBalance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	balance, err := h.ticketService.Balance(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, balance)
}

// GetHistory handles GET /tickets/history
func (h *TicketHandler) GetHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	page := pageFromQuery(c)
	entries, err := h.ticketService.History(c.Request.Context(), userID, page)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, entries, page.Limit, page.Offset, len(entries))
}
