package handler

import (
	"github.com/Loafy-club/Booking/internal/dto"
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/gin-gonic/gin"
)

// AdminHandler handles organizer and ticket administration.
// Routes are expected behind RequireAdmin.
type AdminHandler struct {
	ticketService  service.TicketService
	sessionService service.SessionService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(ticketService service.TicketService, sessionService service.SessionService) *AdminHandler {
	return &AdminHandler{
		ticketService:  ticketService,
		sessionService: sessionService,
	}
}

// GrantTickets handles POST /admin/users/:id/tickets/grant
func (h *AdminHandler) GrantTickets(c *gin.Context) {
	adminID, ok := requireUser(c)
	if !ok {
		return
	}

	userID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.TicketAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "amount must be a positive number")
		return
	}

	entry, err := h.ticketService.GrantBonus(c.Request.Context(), adminID, userID, req.Amount, req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, entry)
}

// RevokeTickets handles POST /admin/users/:id/tickets/revoke
func (h *AdminHandler) RevokeTickets(c *gin.Context) {
	adminID, ok := requireUser(c)
	if !ok {
		return
	}

	userID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.TicketAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "amount must be a positive number")
		return
	}

	entry, err := h.ticketService.Revoke(c.Request.Context(), adminID, userID, req.Amount, req.Notes)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, entry)
}

// GetUserLedger handles GET /admin/users/:id/tickets
func (h *AdminHandler) GetUserLedger(c *gin.Context) {
	userID, ok := pathID(c)
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

// VerifyLedger handles GET /admin/subscriptions/:id/ledger/verify
func (h *AdminHandler) VerifyLedger(c *gin.Context) {
	subscriptionID, ok := pathID(c)
	if !ok {
		return
	}

	report, err := h.ticketService.VerifyLedger(c.Request.Context(), subscriptionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

// CreateSession handles POST /admin/sessions
func (h *AdminHandler) CreateSession(c *gin.Context) {
	organizerID, ok := requireUser(c)
	if !ok {
		return
	}

	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	session, err := h.sessionService.Create(c.Request.Context(), organizerID, req.ToServiceRequest())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, session)
}

// CancelSession handles POST /admin/sessions/:id/cancel
func (h *AdminHandler) CancelSession(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Cancel(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
