package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupSubscriptionRouter(svc *MockBillingService, userID string) *gin.Engine {
	h := NewSubscriptionHandler(svc)
	router := gin.New()
	subs := router.Group("/subscriptions", withUser(userID))
	subs.GET("/current", h.GetCurrent)
	subs.POST("/current/cancel", h.CancelAutoRenew)
	subs.POST("/current/resume", h.ResumeAutoRenew)
	return router
}

func TestSubscriptionHandler_GetCurrent(t *testing.T) {
	svc := &MockBillingService{
		GetCurrentFunc: func(ctx context.Context, userID string) (*domain.Subscription, error) {
			assert.Equal(t, testUserID, userID)
			return &domain.Subscription{ID: testSubscriptionID, UserID: userID, Status: domain.SubscriptionActive, TicketsRemaining: 7, AutoRenew: true}, nil
		},
	}

	w := doJSON(setupSubscriptionRouter(svc, testUserID), http.MethodGet, "/subscriptions/current", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, testSubscriptionID, data["id"])
	assert.Equal(t, float64(7), data["tickets_remaining"])
	assert.Equal(t, true, data["auto_renew"])
}

func TestSubscriptionHandler_GetCurrent_None(t *testing.T) {
	w := doJSON(setupSubscriptionRouter(&MockBillingService{}, testUserID), http.MethodGet, "/subscriptions/current", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SUBSCRIPTION_NOT_FOUND", decode(t, w).Error.Code)
}

func TestSubscriptionHandler_AutoRenew(t *testing.T) {
	var calls []string
	svc := &MockBillingService{
		CancelAutoRenewFunc: func(ctx context.Context, userID string) (*domain.Subscription, error) {
			calls = append(calls, "cancel:"+userID)
			return &domain.Subscription{ID: testSubscriptionID, Status: domain.SubscriptionActive, AutoRenew: false}, nil
		},
		ResumeAutoRenewFunc: func(ctx context.Context, userID string) (*domain.Subscription, error) {
			calls = append(calls, "resume:"+userID)
			return &domain.Subscription{ID: testSubscriptionID, Status: domain.SubscriptionActive, AutoRenew: true}, nil
		},
	}
	router := setupSubscriptionRouter(svc, testUserID)

	w := doJSON(router, http.MethodPost, "/subscriptions/current/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w).Data.(map[string]interface{})["auto_renew"])

	w = doJSON(router, http.MethodPost, "/subscriptions/current/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w).Data.(map[string]interface{})["auto_renew"])

	assert.Equal(t, []string{"cancel:" + testUserID, "resume:" + testUserID}, calls)
}

func TestSubscriptionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no subscription", domain.ErrSubscriptionNotFound, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND"},
		{"inactive", domain.ErrSubscriptionInactive, http.StatusBadRequest, "SUBSCRIPTION_INACTIVE"},
		{"provider down", errors.New("failed to update billing subscription"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockBillingService{
				CancelAutoRenewFunc: func(ctx context.Context, userID string) (*domain.Subscription, error) {
					return nil, tt.err
				},
			}
			w := doJSON(setupSubscriptionRouter(svc, testUserID), http.MethodPost, "/subscriptions/current/cancel", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode(t, w).Error.Code)
		})
	}
}

func TestSubscriptionHandler_Unauthorized(t *testing.T) {
	router := setupSubscriptionRouter(&MockBillingService{}, "")
	for _, path := range []string{"/subscriptions/current/cancel", "/subscriptions/current/resume"} {
		w := doJSON(router, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}
