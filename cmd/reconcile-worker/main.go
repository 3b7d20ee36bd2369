// cmd/reconcile-worker/main.go
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"atlas/internal/pkg/bootstrap"
	"atlas/internal/pkg/logger"
	checkoutdomain "atlas/internal/service/checkout/domain"
	checkoutinfra "atlas/internal/service/checkout/infrastructure"
	ledgerapp "atlas/internal/service/ledger/application"
	ledgerinfra "atlas/internal/service/ledger/infrastructure"
	ledgerport "atlas/internal/service/ledger/domain/port"
	reconcileapp "atlas/internal/service/reconcile/application"
	reconcileinfra "atlas/internal/service/reconcile/infrastructure"
	"atlas/internal/zookeeper"
)

const serviceName = "reconcile-worker"

// The worker consumes reconcile tasks, releases orphaned reservations and
// flags the affected orders, and periodically sweeps for orders stuck in
// PROCESSING. It shares the ledger store with stock-service so releases go
// through the same atomic path.
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)

	var (
		stockStore ledgerport.StockStore
		orderRepo  checkoutdomain.OrderRepository
	)
	switch cfg.Store.Driver {
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.Store.MySQLDSN), &gorm.Config{})
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to connect to mysql")
		}
		stockStore = ledgerinfra.NewGormStockStore(db)
		orderRepo = checkoutinfra.NewGormOrderRepository(db)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		stockStore = ledgerinfra.NewRedisStockStore(client)
		// Orders stay in MySQL even on the redis driver so the review
		// flags written here are visible to stock-service.
		db, err := gorm.Open(mysql.Open(cfg.Store.MySQLDSN), &gorm.Config{})
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to connect to mysql for orders")
		}
		orderRepo = checkoutinfra.NewGormOrderRepository(db)
	default:
		// Process-local stores; flags set here are not visible to any
		// other process. Only suitable for single-binary development.
		logger.L().Warn().Msg("memory store driver: order flags are process-local")
		stockStore = ledgerinfra.NewMemStockStore()
		orderRepo = checkoutinfra.NewMemOrderRepository()
	}

	ledgerService := ledgerapp.NewService(stockStore, tracer,
		ledgerapp.WithRetry(cfg.Ledger.RetryMax, cfg.Ledger.RetryBaseDelay),
		ledgerapp.WithOpTimeout(cfg.Ledger.OpTimeout),
	)

	policy, err := reconcileapp.NewPolicy(cfg.Reconcile.PolicyExpr)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("invalid reconcile policy expression")
	}
	reconcileService := reconcileapp.NewService(orderRepo, ledgerService, policy, tracer)

	reader := reconcileinfra.NewTaskReader(cfg.Kafka.Brokers, cfg.Kafka.ReconcileTopic, cfg.Kafka.ConsumerGroup)
	consumer := reconcileinfra.NewTaskConsumerAdapter(reader, reconcileService)

	zkConn, err := zookeeper.Connect(cfg.Zookeeper.Servers, 5*time.Second)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect to zookeeper")
	}
	sweeper := reconcileinfra.NewSweeper(orderRepo, reconcileService, zkConn, cfg.Reconcile.SweepInterval, cfg.Reconcile.StuckAfter)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(workerCtx)
	consumer.Start(groupCtx)
	group.Go(func() error {
		return sweeper.Run(groupCtx)
	})

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8081,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			// Health and metrics only; the worker has no request surface.
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			workerCancel()
			consumer.Stop()
			if err := group.Wait(); err != nil && err != context.Canceled {
				logger.L().Error().Err(err).Msg("reconcile worker stopped with error")
			}
			zkConn.Close()
		},
	})
}
