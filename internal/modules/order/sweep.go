// README: Cron-driven expiration sweep for stale matched orders.
package order

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"carpool/internal/logger"
)

// Sweep periodically force-cancels matched orders whose driver never
// confirmed. Cancels reuse the conditional update path, so a confirm racing
// the sweep always wins.
type Sweep struct {
	cron      *cron.Cron
	svc       *Service
	threshold time.Duration
	log       logger.ILogger
}

func NewSweep(svc *Service, schedule string, threshold time.Duration, log logger.ILogger) (*Sweep, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &Sweep{
		cron:      cron.New(cron.WithSeconds()),
		svc:       svc,
		threshold: threshold,
		log:       log,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweep) Start() {
	s.cron.Start()
	s.log.Info("expiration sweep started",
		logger.Duration("threshold", s.threshold))
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweep) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweep) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.svc.ExpireStale(ctx, s.threshold)
	if err != nil {
		s.log.Error("expiration sweep failed", logger.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("expired stale matched orders", logger.Int("count", expired))
	}
}
