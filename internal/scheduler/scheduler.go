package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/huts4u/payout-service/internal/model"
	"github.com/huts4u/payout-service/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultSchedule = "0 2 * * *"
	DefaultTimezone = "Asia/Kolkata"
)

// Runner processes a batch of due payouts
type Runner interface {
	RunDuePayouts(ctx context.Context, limit int) ([]model.Result, error)
}

// Config holds scheduler settings
type Config struct {
	Schedule  string
	Location  *time.Location
	BatchSize int
}

// Scheduler fires payout runs on a cron schedule in a fixed timezone.
// Overlapping fires inside one process are skipped; overlap across processes
// is safe because every payout is claimed before it is paid.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	entry  cron.EntryID
}

// New creates a new scheduler. It fails on an invalid cron expression.
func New(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone: %w", err)
		}
		cfg.Location = loc
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   c,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	entry, err := c.AddFunc(cfg.Schedule, s.fire)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid payout schedule %q: %w", cfg.Schedule, err)
	}
	s.entry = entry

	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Payout scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.String("timezone", s.cfg.Location.String()),
		zap.Time("next", s.Next()),
	)
}

// Stop stops scheduling and waits for a running batch until ctx is done, then
// cancels it. A cancelled batch finishes the payout in flight and leaves
// unstarted payouts pending.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Payout run still active at shutdown, cancelling")
		s.cancel()
		<-done
	}
	s.cancel()
}

// Next returns the next scheduled fire time.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow runs one batch immediately with the configured batch size.
func (s *Scheduler) RunNow(ctx context.Context) (model.Summary, error) {
	start := time.Now()
	s.logger.Info("Payout run started", zap.Time("at", start.In(s.cfg.Location)))

	results, err := s.runner.RunDuePayouts(service.WithTrigger(ctx, "cron"), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Payout run failed", zap.Error(err))
		return model.Summary{}, err
	}

	for _, r := range results {
		if r.Outcome == model.OutcomeFailed {
			s.logger.Warn("Payout attempt failed",
				zap.String("payoutId", r.PayoutID),
				zap.String("reason", r.Reason),
				zap.String("error", r.Error),
			)
		}
	}

	summary := model.Summarize(results)
	s.logger.Info("Payout run finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", time.Since(start)),
	)

	return summary, nil
}

func (s *Scheduler) fire() {
	_, _ = s.RunNow(s.ctx)
}
