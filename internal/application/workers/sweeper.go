package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the sweep hourly
const DefaultSweepSchedule = "@every 1h"

// Sweepable removes processes older than maxAge
type Sweepable interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// Sweeper periodically sweeps expired processes
type Sweeper struct {
	target  Sweepable
	maxAge  time.Duration
	timeout time.Duration
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewSweeper schedules sweeps of target with a cron spec such as
// "@every 1h" or "0 * * * *".
func NewSweeper(schedule string, maxAge time.Duration, target Sweepable, logger *zap.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	clog := cronLogger{logger.Sugar()}
	s := &Sweeper{
		target:  target,
		maxAge:  maxAge,
		timeout: time.Minute,
		cron:    cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog))),
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start starts the schedule
func (s *Sweeper) Start() {
	s.logger.Info("starting process sweeper",
		zap.Duration("max_age", s.maxAge))
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps immediately and returns the number of removed processes
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.target.Sweep(ctx, s.maxAge)
	if err != nil {
		s.logger.Error("process sweep failed",
			zap.Int("removed", n),
			zap.Error(err))
	}
	return n
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
