package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/internal/metrics"
	"github.com/Loafy-club/Booking/internal/repository"
	"github.com/Loafy-club/Booking/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Expirer is the part of the booking service the reaper drives
type Expirer interface {
	FindExpiredBookings(ctx context.Context, after *repository.ExpiredCursor, limit int) ([]*domain.Booking, error)
	ExpireBooking(ctx context.Context, bookingID string) (bool, error)
}

// Lease keeps concurrent reaper replicas from sweeping at the same time
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize is the number of bookings fetched per query
	BatchSize int
	// Concurrency bounds the bookings expired in parallel
	Concurrency int
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: time.Minute,
		BatchSize:    100,
		Concurrency:  4,
	}
}

// ExpiryWorker periodically cancels unpaid bookings whose payment window
// elapsed. Each booking is re-checked under lock by the service, so
// overlapping sweeps are safe; the lease only avoids wasted work.
type ExpiryWorker struct {
	expirer Expirer
	lease   Lease
	config  *ExpiryWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalExpired     atomic.Int64
	totalFailed      atomic.Int64
	totalSweeps      atomic.Int64
	skippedSweeps    atomic.Int64
	lastScanTime     time.Time
	lastExpiredCount int
}

// NewExpiryWorker creates a new expiry worker. lease may be nil.
func NewExpiryWorker(expirer Expirer, lease Lease, config *ExpiryWorkerConfig) *ExpiryWorker {
	defaults := DefaultExpiryWorkerConfig()
	if config == nil {
		config = defaults
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = defaults.ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	return &ExpiryWorker{
		expirer: expirer,
		lease:   lease,
		config:  config,
		log:     logger.Get(),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry worker",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize),
	)

	w.wg.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop stops the worker and waits for an in-flight sweep to finish
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry worker stopped")
}

func (w *ExpiryWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.log.Error(fmt.Sprintf("Expiry sweep failed: %v", err))
	}
}

// RunOnce performs a single sweep and returns how many bookings it expired.
// A booking that fails to expire is logged and left for the next sweep.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (int, error) {
	if w.lease != nil {
		acquired, err := w.lease.TryAcquire(ctx)
		switch {
		case err != nil:
			w.log.Warn("Reaper lease unavailable, sweeping without it", zap.Error(err))
		case !acquired:
			w.skippedSweeps.Add(1)
			metrics.RecordReaperRun("skipped")
			w.log.Debug("Another replica holds the reaper lease, skipping sweep")
			return 0, nil
		default:
			defer func() {
				if err := w.lease.Release(context.WithoutCancel(ctx)); err != nil {
					w.log.Warn("Failed to release reaper lease", zap.Error(err))
				}
			}()
		}
	}

	w.totalSweeps.Add(1)
	expired, err := w.drain(ctx)

	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.lastExpiredCount = expired
	w.mu.Unlock()

	if err != nil {
		metrics.RecordReaperRun("error")
		return expired, err
	}
	metrics.RecordReaperRun("ok")
	if expired > 0 {
		w.log.Info(fmt.Sprintf("Expired %d unpaid bookings", expired))
	}
	return expired, nil
}

// drain processes batches until one comes back short. Each batch starts
// after the last booking of the previous one, so bookings that keep failing
// are passed over until the next sweep.
func (w *ExpiryWorker) drain(ctx context.Context) (int, error) {
	var (
		total int
		after *repository.ExpiredCursor
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := w.expirer.FindExpiredBookings(ctx, after, w.config.BatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to find expired bookings: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		total += w.expireBatch(ctx, batch)
		if len(batch) < w.config.BatchSize {
			return total, nil
		}
		after = repository.CursorAfter(batch[len(batch)-1])
	}
}

func (w *ExpiryWorker) expireBatch(ctx context.Context, batch []*domain.Booking) int {
	var (
		g       errgroup.Group
		expired atomic.Int64
	)
	g.SetLimit(w.config.Concurrency)

	for _, b := range batch {
		g.Go(func() error {
			ok, err := w.expirer.ExpireBooking(ctx, b.ID)
			if err != nil {
				w.totalFailed.Add(1)
				w.log.Error(fmt.Sprintf("Failed to expire booking %s", b.ID), zap.Error(err))
				return nil
			}
			if ok {
				expired.Add(1)
				w.totalExpired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(expired.Load())
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired.Load(),
		TotalFailed:      w.totalFailed.Load(),
		TotalSweeps:      w.totalSweeps.Load(),
		SkippedSweeps:    w.skippedSweeps.Load(),
		LastScanTime:     w.lastScanTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpiryWorkerStats contains worker statistics
type ExpiryWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	TotalFailed      int64     `json:"total_failed"`
	TotalSweeps      int64     `json:"total_sweeps"`
	SkippedSweeps    int64     `json:"skipped_sweeps"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
