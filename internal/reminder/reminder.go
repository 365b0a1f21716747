// Package reminder periodically DMs members whose approved leave is about to end.
package reminder

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"leave-bot/internal/model"
)

const (
	DefaultHours        = 24
	DefaultInterval     = time.Hour
	DefaultInitialDelay = 5 * time.Second
)

// Source lists leaves ending soon and delivers one reminder.
type Source interface {
	LeavesEndingSoon(ctx context.Context, hours int) ([]*model.LeaveRequest, error)
	Remind(ctx context.Context, req *model.LeaveRequest) error
}

type Options struct {
	Hours        int
	Interval     time.Duration
	InitialDelay time.Duration
}

// Scheduler scans on a fixed interval. A request is reminded at most once per
// end date while the process runs.
type Scheduler struct {
	src          Source
	hours        int
	interval     time.Duration
	initialDelay time.Duration
	sent         *cache.Cache
	logger       *zap.Logger
}

func New(src Source, opts Options, logger ...*zap.Logger) *Scheduler {
	l := zap.L().Named("reminder")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("reminder")
	}
	if opts.Hours <= 0 {
		opts.Hours = DefaultHours
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	// Entries outlive the look-ahead window so a leave is never reminded twice.
	ttl := time.Duration(opts.Hours)*time.Hour + 24*time.Hour
	return &Scheduler{
		src:          src,
		hours:        opts.Hours,
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		sent:         cache.New(ttl, 10*time.Minute),
		logger:       l,
	}
}

// Run scans after the initial delay and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("reminder scheduler started",
		zap.Int("hours", s.hours),
		zap.Duration("interval", s.interval),
	)
	defer s.logger.Info("reminder scheduler stopped")

	first := time.NewTimer(s.initialDelay)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-first.C:
		s.RunOnce(ctx)
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce sends the reminders that are due and returns how many were sent.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	leaves, err := s.src.LeavesEndingSoon(ctx, s.hours)
	if err != nil {
		s.logger.Error("list leaves ending soon failed", zap.Error(err))
		return 0
	}

	sent := 0
	for _, req := range leaves {
		key := req.RequestID + "|" + req.EndDate
		if _, done := s.sent.Get(key); done {
			continue
		}
		if err := s.src.Remind(ctx, req); err != nil {
			s.logger.Warn("send reminder failed", zap.String("request_id", req.RequestID), zap.Error(err))
			continue
		}
		s.sent.SetDefault(key, true)
		sent++
	}
	if sent > 0 {
		s.logger.Info("reminders sent", zap.Int("count", sent))
	}
	return sent
}
