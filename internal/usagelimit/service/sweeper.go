package service

import (
	"context"
	"fmt"
	"time"

	"github.com/revaiconcierge/concierge/internal/cache"
	"github.com/revaiconcierge/concierge/internal/config"
	"github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultSweepSchedule = "5 0 * * *"
	defaultSweepBatch    = 500
	sweepTimeout         = 10 * time.Minute
	sweepLockKey         = "usagelimit:sweep"
)

// Locker keeps replicas from sweeping the same window concurrently.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// Sweeper rolls over counters of idle tenants so stored usage does not outlive its window.
// Active tenants are reset lazily on their next check either way.
type Sweeper struct {
	svc    domain.Service
	log    *zap.Logger
	batch  int
	locker Locker
}

func NewSweeper(svc domain.Service, log *zap.Logger, batch int) *Sweeper {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{svc: svc, log: log.Named("usagelimit.sweeper"), batch: batch}
}

// WithLocker makes Run a no-op on replicas that do not hold the sweep lease.
func (s *Sweeper) WithLocker(locker Locker) *Sweeper {
	s.locker = locker
	return s
}

// Run drains due counters batch by batch and returns how many were reset.
func (s *Sweeper) Run(ctx context.Context) int {
	var token string
	if s.locker != nil {
		var (
			ok  bool
			err error
		)
		token, ok, err = s.locker.TryLock(ctx, sweepLockKey, sweepTimeout)
		if err != nil {
			s.log.Warn("usage reset sweep lock failed", zap.Error(err))
			return 0
		}
		if !ok {
			s.log.Debug("usage reset sweep held by another replica")
			return 0
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				s.log.Warn("usage reset sweep unlock failed", zap.Error(err))
			}
		}()
	}

	total := 0
	for {
		n, err := s.svc.RolloverDue(ctx, s.batch)
		total += n
		if err != nil {
			s.log.Error("usage reset sweep failed", zap.Int("reset", total), zap.Error(err))
			return total
		}
		if n < s.batch || ctx.Err() != nil {
			break
		}
		if !s.renew(ctx, token) {
			break
		}
	}
	if total > 0 {
		s.log.Info("usage reset sweep finished", zap.Int("reset", total))
	}
	return total
}

// renew keeps the lease alive between batches; a lost lease stops this replica's sweep.
func (s *Sweeper) renew(ctx context.Context, token string) bool {
	if s.locker == nil {
		return true
	}
	ok, err := s.locker.Extend(ctx, sweepLockKey, token, sweepTimeout)
	if err != nil {
		s.log.Warn("usage reset sweep lease renewal failed", zap.Error(err))
		return false
	}
	if !ok {
		s.log.Warn("usage reset sweep lease lost")
	}
	return ok
}

type SweeperParams struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Service domain.Service
	Locker  *cache.Locker `optional:"true"`
}

func RegisterSweeper(p SweeperParams) error {
	if !p.Cfg.Usage.SweepEnabled {
		return nil
	}

	schedule := p.Cfg.Usage.SweepSchedule
	if schedule == "" {
		schedule = defaultSweepSchedule
	}

	sweeper := NewSweeper(p.Service, p.Log, p.Cfg.Usage.SweepBatchSize)
	if p.Locker != nil {
		sweeper.WithLocker(p.Locker)
	}
	scheduler := cron.New(cron.WithLocation(p.Cfg.ResetLocation()))
	if _, err := scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		sweeper.Run(ctx)
	}); err != nil {
		return fmt.Errorf("schedule usage reset sweep %q: %w", schedule, err)
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.Start()
			sweeper.log.Info("usage reset sweep scheduled", zap.String("schedule", schedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
