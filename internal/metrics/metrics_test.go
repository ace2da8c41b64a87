package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGinMiddleware_RecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/bookings/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/bookings/:id", "404"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bookings/abc", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/bookings/:id", "404"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(reservations.WithLabelValues("conflict"))
	RecordReservation("conflict", 5*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(reservations.WithLabelValues("conflict")))

	RecordReaperRun("ok")
	assert.Greater(t, testutil.ToFloat64(reaperLastRun), 0.0)
}

func TestHandler_ServesMetrics(t *testing.T) {
	RecordCancellation("user")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "loafy_booking_cancellations_total")
}
