package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/dto"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/middleware"
	"github.com/Loafy-club/Booking/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CancellationWindowDetails is attached to a rejected late cancellation
type CancellationWindowDetails struct {
	HoursUntilSession int    `json:"hours_until_session"`
	RequiredHours     int    `json:"required_hours"`
	Window            string `json:"window"`
}

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	var windowErr *domain.CancellationWindowError
	if errors.As(err, &windowErr) {
		response.Error(c, http.StatusBadRequest, domain.CodeOf(err), windowErr.Error(), CancellationWindowDetails{
			HoursUntilSession: windowErr.HoursUntilSession,
			RequiredHours:     windowErr.RequiredHours,
			Window:            windowErr.Window(),
		})
		return
	}

	if errors.Is(err, domain.ErrPaymentUnavailable) {
		logger.ErrorContext(c.Request.Context(), "Payment gateway error", zap.Error(err))
		response.Error(c, http.StatusServiceUnavailable, domain.CodeOf(err), "payment gateway unavailable, try again later", nil)
		return
	}

	var status int
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindBadRequest:
		status = http.StatusBadRequest
	case domain.KindForbidden:
		status = http.StatusForbidden
	default:
		logger.ErrorContext(c.Request.Context(), "Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c)
		return
	}

	response.Error(c, status, domain.CodeOf(err), errorMessage(err), nil)
}

// errorMessage returns the client-facing message without wrapped causes
func errorMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// pageFromQuery parses limit/offset; invalid values fall back to defaults
func pageFromQuery(c *gin.Context) repository.Page {
	page := repository.Page{Limit: 20}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			page.Limit = n
		}
	}
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			page.Offset = n
		}
	}
	return page
}

// pathID binds the :id path parameter; anything but a UUID is rejected
func pathID(c *gin.Context) (string, bool) {
	var p dto.IDParam
	if err := c.ShouldBindUri(&p); err != nil {
		handleError(c, domain.ErrMalformedID)
		return "", false
	}
	return p.ID, true
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return "", false
	}
	return userID, true
}
