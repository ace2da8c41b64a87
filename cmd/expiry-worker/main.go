package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Loafy-club/Booking/internal/di"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/internal/worker"
	"github.com/Loafy-club/Booking/pkg/config"
	"github.com/Loafy-club/Booking/pkg/logger"
)

const (
	serviceName = "expiry-worker"
	leaseKey    = "lease:booking-expiry-reaper"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Expiry Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:      cfg,
		ServiceName: serviceName,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}

	// The lease only prevents replicas from duplicating a sweep
	var lease worker.Lease
	if container.Redis != nil {
		lease = container.Redis.NewLease(leaseKey, cfg.Expiry.LeaseTTL)
		appLog.Info("Reaper lease enabled")
	}

	expiryWorker := worker.NewExpiryWorker(container.BookingService, lease, &worker.ExpiryWorkerConfig{
		ScanInterval: cfg.Expiry.ScanInterval,
		BatchSize:    cfg.Expiry.BatchSize,
	})
	if err := expiryWorker.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start worker: %v", err))
	}

	// Metrics endpoint for monitoring
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error(fmt.Sprintf("Metrics server error: %v", err))
		}
	}()

	appLog.Info("Expiry Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	expiryWorker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := container.Close(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Failed to release resources: %v", err))
	}

	stats := expiryWorker.GetStats()
	appLog.Info(fmt.Sprintf("Worker exited gracefully (expired=%d, failed=%d, sweeps=%d)",
		stats.TotalExpired, stats.TotalFailed, stats.TotalSweeps))
}
