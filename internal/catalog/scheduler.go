package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Scheduler runs periodic catalog pulls. Runs never overlap: a pull that
// is due while the previous one is still going is skipped.
type Scheduler struct {
	cron   *gocron.Scheduler
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewScheduler schedules p.Pull(mode) every interval, starting as soon as
// Start is called.
func NewScheduler(p *Puller, interval time.Duration, mode Mode, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("catalog pull interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()

	_, err := cron.Every(interval).Do(func() {
		if _, err := p.Pull(ctx, mode); err != nil && ctx.Err() == nil {
			logger.Debug("scheduled catalog pull failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule catalog pull: %w", err)
	}
	return &Scheduler{cron: cron, cancel: cancel, logger: logger}, nil
}

// Start begins running pulls in the background.
func (s *Scheduler) Start() {
	s.logger.Info("catalog scheduler started")
	s.cron.StartAsync()
}

// Stop cancels any running pull and stops the schedule.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	s.logger.Info("catalog scheduler stopped")
}
