package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Loafy-club/Booking/internal/di"
	"github.com/Loafy-club/Booking/internal/worker"
	"github.com/Loafy-club/Booking/pkg/config"
	"github.com/Loafy-club/Booking/pkg/logger"
	flag "github.com/spf13/pflag"
)

const serviceName = "bonus-worker"

func main() {
	runOnce := flag.Bool("once", false, "grant today's birthday bonuses and exit")
	flag.Parse()

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
	appLog.Info("Starting Bonus Worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:      cfg,
		ServiceName: serviceName,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := container.Close(closeCtx); err != nil {
			appLog.Error(fmt.Sprintf("Failed to release resources: %v", err))
		}
	}()

	birthdayWorker := worker.NewBirthdayBonusWorker(container.TicketService, &worker.BirthdayBonusConfig{
		Schedule:      cfg.Bonus.BirthdaySchedule,
		Tickets:       cfg.Bonus.BirthdayTickets,
		MinAccountAge: cfg.Bonus.MinAccountAge,
	})

	if *runOnce {
		result, err := birthdayWorker.RunOnce(ctx)
		if err != nil {
			appLog.Error(fmt.Sprintf("Birthday bonus run failed: %v", err))
			return
		}
		appLog.Info(fmt.Sprintf("Granted %d birthday bonuses (%d skipped, %d failed)",
			result.Granted, result.Skipped, result.Failed))
		return
	}

	if err := birthdayWorker.Start(ctx); err != nil {
		appLog.Error(fmt.Sprintf("Failed to start worker: %v", err))
		return
	}
	appLog.Info("Bonus Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	cancel()
	birthdayWorker.Stop()
	appLog.Info("Worker exited gracefully")
}
