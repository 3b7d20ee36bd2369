package infrastructure

import (
	"context"
	"time"

	"atlas/internal/pkg/logger"
	"atlas/internal/service/checkout/domain"
	"atlas/internal/service/reconcile/application"
	"atlas/internal/zookeeper"
)

const sweeperLockResource = "reconcile-sweeper"

// Sweeper periodically scans for orders stuck in processing and flags them
// for manual review. A ZooKeeper lock serializes sweeps across worker
// instances so each stuck order is flagged once.
type Sweeper struct {
	orders   domain.OrderRepository
	service  *application.Service
	zkConn   *zookeeper.Conn
	interval time.Duration
	// stuckAfter is how long an order may sit in processing before it
	// counts as stuck.
	stuckAfter time.Duration
}

func NewSweeper(orders domain.OrderRepository, service *application.Service, zkConn *zookeeper.Conn, interval, stuckAfter time.Duration) *Sweeper {
	return &Sweeper{
		orders:     orders,
		service:    service,
		zkConn:     zkConn,
		interval:   interval,
		stuckAfter: stuckAfter,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	lock, err := zookeeper.NewDistributedLock(s.zkConn, sweeperLockResource)
	if err != nil {
		logger.L().Error().Err(err).Msg("sweeper could not prepare lock")
		return
	}
	if err := lock.Lock(); err != nil {
		logger.L().Warn().Err(err).Msg("sweeper could not acquire lock, skipping sweep")
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.L().Error().Err(err).Msg("sweeper failed to release lock")
		}
	}()

	cutoff := time.Now().Add(-s.stuckAfter)
	stuck, err := s.orders.FindStuckProcessing(ctx, cutoff)
	if err != nil {
		logger.L().Error().Err(err).Msg("sweeper scan failed")
		return
	}
	if len(stuck) == 0 {
		return
	}
	flagged := s.service.FlagStuckOrders(ctx, stuck)
	logger.L().Info().Int("stuck", len(stuck)).Int("flagged", flagged).Msg("sweep completed")
}
