package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Loafy-club/Booking/internal/di"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/pkg/config"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/Loafy-club/Booking/pkg/middleware"
	"github.com/Loafy-club/Booking/pkg/telemetry"
	"github.com/gin-gonic/gin"
)

const serviceName = "booking-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateStripe(); err != nil {
		log.Fatalf("Invalid payment configuration: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Booking Service...")

	ctx := context.Background()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn(fmt.Sprintf("Telemetry disabled: %v", err))
	}

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:      cfg,
		ServiceName: serviceName,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, container)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Booking Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Failed to release resources: %v", err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Failed to flush traces: %v", err))
	}

	appLog.Info("Server exited gracefully")
}

func setupRouter(cfg *config.Config, c *di.Container) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(serviceName))
	router.Use(metrics.GinMiddleware())

	// Health check endpoints
	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Stripe authenticates with the signature header, not a bearer token
	router.POST("/webhooks/stripe", c.WebhookHandler.HandleStripe)

	var idempotency *middleware.IdempotencyConfig
	if c.Redis != nil {
		idempotency = middleware.DefaultIdempotencyConfig(c.Redis.Client())
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	auth := middleware.AuthMiddleware(&middleware.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sessions", c.SessionHandler.ListSessions)
		v1.GET("/sessions/:id", c.SessionHandler.GetSession)

		bookings := v1.Group("/bookings", auth)
		{
			// Write operations with rate limit and idempotency
			bookings.POST("", limiter.Middleware(), middleware.IdempotencyMiddleware(idempotency), c.BookingHandler.CreateBooking)
			bookings.POST("/:id/cancel", limiter.Middleware(), middleware.IdempotencyMiddleware(idempotency), c.BookingHandler.CancelBooking)
			bookings.POST("/:id/payment-intent", limiter.Middleware(), c.BookingHandler.CreatePaymentIntent)

			bookings.GET("", c.BookingHandler.ListBookings)
			bookings.GET("/:id", c.BookingHandler.GetBooking)
		}

		tickets := v1.Group("/tickets", auth)
		{
			tickets.GET("/balance", c.TicketHandler.GetBalance)
			tickets.GET("/history", c.TicketHandler.GetHistory)
		}

		subscriptions := v1.Group("/subscriptions", auth)
		{
			subscriptions.GET("/current", c.SubscriptionHandler.GetCurrent)
			subscriptions.POST("/current/cancel", limiter.Middleware(), c.SubscriptionHandler.CancelAutoRenew)
			subscriptions.POST("/current/resume", limiter.Middleware(), c.SubscriptionHandler.ResumeAutoRenew)
		}

		admin := v1.Group("/admin", auth, middleware.RequireAdmin())
		{
			admin.POST("/users/:id/tickets/grant", c.AdminHandler.GrantTickets)
			admin.POST("/users/:id/tickets/revoke", c.AdminHandler.RevokeTickets)
			admin.GET("/users/:id/tickets", c.AdminHandler.GetUserLedger)
			admin.GET("/subscriptions/:id/ledger/verify", c.AdminHandler.VerifyLedger)
			admin.POST("/sessions", c.AdminHandler.CreateSession)
			admin.POST("/sessions/:id/cancel", c.AdminHandler.CancelSession)
		}
	}

	return router
}
