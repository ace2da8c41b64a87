package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Loafy-club/Booking/internal/domain"
	"github.com/Loafy-club/Booking/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// BirthdayGranter is the part of the ticket service the birthday job drives
type BirthdayGranter interface {
	BirthdayCandidates(ctx context.Context, now time.Time, minAccountAge time.Duration) ([]*domain.User, error)
	GrantBirthdayBonus(ctx context.Context, userID string, amount int) (*domain.TicketTransaction, error)
}

// BirthdayBonusConfig configures the birthday bonus job
type BirthdayBonusConfig struct {
	// Schedule is a standard 5-field cron expression evaluated in UTC
	Schedule      string
	Tickets       int
	MinAccountAge time.Duration
}

// DefaultBirthdayBonusConfig runs daily at 00:01 UTC
func DefaultBirthdayBonusConfig() *BirthdayBonusConfig {
	return &BirthdayBonusConfig{
		Schedule:      "1 0 * * *",
		Tickets:       1,
		MinAccountAge: 30 * 24 * time.Hour,
	}
}

// BirthdayRunResult summarizes one run of the job
type BirthdayRunResult struct {
	Candidates int `json:"candidates"`
	Granted    int `json:"granted"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// BirthdayBonusWorker grants a yearly bonus ticket to subscribers on their birthday
type BirthdayBonusWorker struct {
	granter BirthdayGranter
	config  *BirthdayBonusConfig
	cron    *cron.Cron
	log     *logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	last    *BirthdayRunResult
}

// NewBirthdayBonusWorker creates the job; Start schedules it
func NewBirthdayBonusWorker(granter BirthdayGranter, config *BirthdayBonusConfig) *BirthdayBonusWorker {
	defaults := DefaultBirthdayBonusConfig()
	if config == nil {
		config = defaults
	}
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.Tickets <= 0 {
		config.Tickets = defaults.Tickets
	}
	if config.MinAccountAge < 0 {
		config.MinAccountAge = 0
	}

	log := logger.Get()
	cl := cronLogger{log: log}
	return &BirthdayBonusWorker{
		granter: granter,
		config:  config,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
		now: time.Now,
	}
}

// Start schedules the job
func (w *BirthdayBonusWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("birthday bonus worker already running")
	}

	if _, err := w.cron.AddFunc(w.config.Schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Error("Birthday bonus run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid birthday bonus schedule %q: %w", w.config.Schedule, err)
	}

	w.cron.Start()
	w.running = true
	w.log.Info("Birthday bonus worker scheduled", zap.String("schedule", w.config.Schedule))
	return nil
}

// Stop unschedules the job and waits for a running invocation
func (w *BirthdayBonusWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	<-w.cron.Stop().Done()
	w.log.Info("Birthday bonus worker stopped")
}

// RunOnce grants today's birthday bonuses. Users who already received this
// year's bonus or have no active subscription are skipped.
func (w *BirthdayBonusWorker) RunOnce(ctx context.Context) (*BirthdayRunResult, error) {
	now := w.now().UTC()
	users, err := w.granter.BirthdayCandidates(ctx, now, w.config.MinAccountAge)
	if err != nil {
		return nil, fmt.Errorf("failed to list birthday users: %w", err)
	}

	result := &BirthdayRunResult{Candidates: len(users)}
	for _, u := range users {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		_, err := w.granter.GrantBirthdayBonus(ctx, u.ID, w.config.Tickets)
		switch {
		case err == nil:
			result.Granted++
		case errors.Is(err, domain.ErrBonusAlreadyGranted), errors.Is(err, domain.ErrSubscriptionNotFound):
			result.Skipped++
		default:
			result.Failed++
			w.log.Error(fmt.Sprintf("Failed to grant birthday bonus to %s", u.ID), zap.Error(err))
		}
	}

	w.mu.Lock()
	w.last = result
	w.mu.Unlock()

	w.log.Info("Birthday bonus run complete",
		zap.Int("candidates", result.Candidates),
		zap.Int("granted", result.Granted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// LastRun returns the result of the most recent run, if any
func (w *BirthdayBonusWorker) LastRun() *BirthdayRunResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
