package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler fires session ticks at a fixed interval. A run that would overlap the previous one is
// rescheduled instead of started.
type Scheduler struct {
	session  *Session
	interval time.Duration
	logger   *zap.Logger
	sched    gocron.Scheduler

	// inView is the sorted caption set of the last tick; only the tick goroutine touches it.
	inView string
}

// NewScheduler prepares a scheduler for s.
func NewScheduler(s *Session, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{session: s, interval: interval, logger: logger, sched: sched}, nil
}

// Run ticks until ctx is cancelled. Tick errors are logged and never stop the loop.
func (sc *Scheduler) Run(ctx context.Context) error {
	_, err := sc.sched.NewJob(
		gocron.DurationJob(sc.interval),
		gocron.NewTask(func() {
			sc.tick(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule detection: %w", err)
	}

	sc.sched.Start()
	sc.logger.Info("detection loop started", zap.Duration("interval", sc.interval), zap.String("session", sc.session.ID.String()))
	<-ctx.Done()

	if err := sc.sched.Shutdown(); err != nil {
		sc.logger.Warn("scheduler shutdown", zap.Error(err))
	}
	sc.logger.Info("detection loop stopped",
		zap.Uint64("ticks", sc.session.Ticks()),
		zap.Uint64("skipped", sc.session.Skipped()),
	)
	return nil
}

func (sc *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := sc.session.Tick(ctx)
	switch {
	case err == nil:
		sc.logger.Debug("tick",
			zap.Uint64("seq", report.Seq),
			zap.Int("faces", len(report.Results)),
			zap.Duration("elapsed", report.Elapsed),
		)
		sc.reportView(report)
	case errors.Is(err, ErrTickInProgress), errors.Is(err, context.Canceled):
		sc.logger.Debug("tick skipped", zap.Error(err))
	default:
		sc.logger.Warn("tick failed", zap.Error(err))
	}
}

// reportView logs the recognized labels whenever the set of faces in view changes.
func (sc *Scheduler) reportView(report TickReport) {
	labels := make([]string, 0, len(report.Results))
	for _, r := range report.Results {
		labels = append(labels, r.Label)
	}
	slices.Sort(labels)
	view := strings.Join(labels, ",")
	if view == sc.inView {
		return
	}
	sc.inView = view
	sc.logger.Info("faces in view",
		zap.Uint64("seq", report.Seq),
		zap.Strings("labels", labels),
	)
}
