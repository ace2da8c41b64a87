package handler

import (
	"github.com/Loafy-club/Booking/internal/service"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/gin-gonic/gin"
)

// SessionHandler serves the public session listing
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// ListSessions handles GET /sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page := pageFromQuery(c)
	sessions, err := h.sessionService.ListUpcoming(c.Request.Context(), page)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, sessions, page.Limit, page.Offset, len(sessions))
}

// GetSession handles GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := pathID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}
