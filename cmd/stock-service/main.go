// cmd/stock-service/main.go
package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"atlas/internal/pkg/bootstrap"
	"atlas/internal/pkg/httpclient"
	"atlas/internal/pkg/logger"
	"atlas/internal/push"
	catalogdomain "atlas/internal/service/catalog/domain"
	cataloginfra "atlas/internal/service/catalog/infrastructure"
	cataloginterfaces "atlas/internal/service/catalog/interfaces"
	checkoutapp "atlas/internal/service/checkout/application"
	checkoutdomain "atlas/internal/service/checkout/domain"
	checkoutinfra "atlas/internal/service/checkout/infrastructure"
	checkoutinterfaces "atlas/internal/service/checkout/interfaces"
	ledgerapp "atlas/internal/service/ledger/application"
	ledgerinfra "atlas/internal/service/ledger/infrastructure"
	ledgerinterfaces "atlas/internal/service/ledger/interfaces"
	ledgerport "atlas/internal/service/ledger/domain/port"
)

const serviceName = "stock-service"

// main is the composition root: it builds the store for the configured
// driver, assembles the ledger and checkout services, and hands the HTTP
// surface to bootstrap.
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	tracer := otel.Tracer(serviceName)

	hub := push.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	var (
		stockStore  ledgerport.StockStore
		orderRepo   checkoutdomain.OrderRepository
		catalogRepo catalogdomain.ProductRepository
		redisClient *redis.Client
	)

	switch cfg.Store.Driver {
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.Store.MySQLDSN), &gorm.Config{})
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to connect to mysql")
		}
		gormStore := ledgerinfra.NewGormStockStore(db)
		if err := gormStore.AutoMigrate(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to migrate stock tables")
		}
		gormOrders := checkoutinfra.NewGormOrderRepository(db)
		if err := gormOrders.AutoMigrate(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to migrate order tables")
		}
		gormCatalog := cataloginfra.NewGormProductRepository(db)
		if err := gormCatalog.AutoMigrate(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to migrate catalog tables")
		}
		stockStore = gormStore
		orderRepo = gormOrders
		catalogRepo = gormCatalog
	case "redis":
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		stockStore = ledgerinfra.NewRedisStockStore(redisClient)
		// Orders stay in MySQL even on the redis driver: the reconcile
		// worker reads review flags from the same table.
		db, err := gorm.Open(mysql.Open(cfg.Store.MySQLDSN), &gorm.Config{})
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to connect to mysql for orders")
		}
		gormOrders := checkoutinfra.NewGormOrderRepository(db)
		if err := gormOrders.AutoMigrate(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to migrate order tables")
		}
		gormCatalog := cataloginfra.NewGormProductRepository(db)
		if err := gormCatalog.AutoMigrate(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to migrate catalog tables")
		}
		orderRepo = gormOrders
		catalogRepo = gormCatalog
	default:
		memStore := ledgerinfra.NewMemStockStore()
		// The in-memory driver exists for local development; seed it with a
		// couple of items so the API is usable out of the box.
		memStore.SetStock("TS-001", "M", 10)
		memStore.SetStock("TS-001", "L", 5)
		memStore.SetStock("HD-204", "XL", 3)
		stockStore = memStore
		orderRepo = checkoutinfra.NewMemOrderRepository()
	}

	ledgerService := ledgerapp.NewService(stockStore, tracer,
		ledgerapp.WithRetry(cfg.Ledger.RetryMax, cfg.Ledger.RetryBaseDelay),
		ledgerapp.WithOpTimeout(cfg.Ledger.OpTimeout),
		ledgerapp.WithEvents(hub),
	)

	reconcileWriter := checkoutinfra.NewReconcileWriter(cfg.Kafka.Brokers, cfg.Kafka.ReconcileTopic)
	reconciler := checkoutinfra.NewReconcileKafkaAdapter(reconcileWriter)
	payment := checkoutinfra.NewPaymentHTTPAdapter(httpclient.NewClient(tracer), cfg.Payment.GatewayURL)
	checkoutService := checkoutapp.NewCheckoutService(orderRepo, ledgerService, payment, reconciler, tracer, 0)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8080,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			ledgerinterfaces.NewLedgerHandler(ledgerService).RegisterRoutes(appCtx.Mux)
			checkoutinterfaces.NewCheckoutHandler(checkoutService).RegisterRoutes(appCtx.Mux)
			if catalogRepo != nil {
				cataloginterfaces.NewCatalogHandler(catalogRepo).RegisterRoutes(appCtx.Mux)
			}
			appCtx.Mux.HandleFunc("/ws/stock", hub.ServeWS)
		},
		OnShutdown: func(ctx context.Context) {
			hubCancel()
			if err := reconcileWriter.Close(); err != nil {
				logger.L().Error().Err(err).Msg("error closing reconcile writer")
			}
			if redisClient != nil {
				if err := redisClient.Close(); err != nil {
					logger.L().Error().Err(err).Msg("error closing redis client")
				}
			}
		},
	})
}
