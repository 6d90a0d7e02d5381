// internal/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	router "custody-ledger/internal/api"
	"custody-ledger/internal/api/handler"
	"custody-ledger/internal/config"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/notify"
	"custody-ledger/internal/pricing"
	"custody-ledger/internal/repository"
	"custody-ledger/internal/repository/postgres"
	"custody-ledger/internal/secret"
	"custody-ledger/internal/service"
	"custody-ledger/internal/util"
	"custody-ledger/internal/worker"
	"custody-ledger/migrations"
	"custody-ledger/pkg/billclient"
	"custody-ledger/pkg/custodyclient"
	"custody-ledger/pkg/db"
	"custody-ledger/pkg/rabbitmq"
)

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *slog.Logger
	DB     *sqlx.DB
	Redis  *redis.Client
	Broker *rabbitmq.Producer

	Repositories repository.Repositories

	// Services
	LedgerService      service.LedgerService
	RateService        service.RateService
	SettlementService  service.SettlementService
	TransactionService service.TransactionService
	BillPaymentService service.BillPaymentService
	RetryWorker        *service.RetryWorker
	Scheduler          *worker.Scheduler

	// HTTP API
	HTTPHandler http.Handler
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize initializes all application components.
func (app *Application) Initialize(ctx context.Context) error {
	// 1. Logger first, so configuration problems are reported in the same format.
	util.InitLogger("info")
	app.Logger = util.GetLogger()

	// 2. Load Configuration
	cfg, err := config.LoadConfig(app.Logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.Config = cfg
	util.InitLogger(cfg.LogLevel)
	app.Logger = util.GetLogger()
	app.Logger.Info("Application configuration loaded successfully.")

	// 3. Secrets and networks. Every on-chain master secret must decrypt with the
	// configured key before the service accepts traffic.
	cipher, err := secret.NewCipher(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to initialize secret cipher: %w", err)
	}
	networks, err := domain.NewNetworkRegistry(cfg.Networks)
	if err != nil {
		return fmt.Errorf("failed to load networks: %w", err)
	}
	for _, n := range cfg.Networks {
		if !n.OnChain {
			continue
		}
		if _, err := cipher.Decrypt(n.MasterSecret); err != nil {
			return fmt.Errorf("master secret for %s does not decrypt: %w", n.Blockchain, err)
		}
	}

	// 4. Connect to Database and apply the schema
	database, err := db.NewPostgresDB(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = database
	if err := db.RunMigrations(ctx, app.DB, migrations.FS); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	app.Logger.Info("Database connection established.")

	// 5. Price cache. Redis is optional; without it prices come straight from the database.
	var cache pricing.Cache = pricing.NoCache{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			app.Logger.Warn("Redis unavailable, price cache disabled", "error", err)
			_ = client.Close()
		} else {
			app.Redis = client
			cache = pricing.NewRedisCache(client, "")
			app.Logger.Info("Redis price cache enabled.")
		}
	}

	// 6. Notification sink. Without a broker, notices and alerts go to the log.
	var sink service.NotificationSink = notify.NewLogSink(app.Logger)
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewProducer(cfg.RabbitMQURL, app.Logger)
		if err != nil {
			app.Logger.Warn("RabbitMQ unavailable, notifications will only be logged", "error", err)
		} else {
			app.Broker = producer
			sink = notify.NewBrokerSink(producer, cfg.RabbitMQExchange)
			app.Logger.Info("RabbitMQ notification sink enabled.", "exchange", cfg.RabbitMQExchange)
		}
	}

	// 7. Initialize Repositories
	app.Repositories = postgres.NewRepositories()
	repos := app.Repositories
	app.Logger.Info("Repositories initialized.")

	// 8. Initialize Services
	uow := service.UnitOfWork{
		Beginner: app.DB,
		Begin:    db.NewBoundedBeginTx(cfg.DBLockWait, cfg.DBStatementTimeout),
		Commit:   db.CommitTx,
		Rollback: db.RollbackTx,
		Timeout:  cfg.UnitTimeout,
	}
	settlementCfg := service.SettlementConfig{
		ConfirmAttempts:  cfg.ConfirmAttempts,
		ConfirmInterval:  cfg.ConfirmInterval,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		RetryBaseBackoff: cfg.RetryBaseBackoff,
		NotifyTimeout:    cfg.NotifyTimeout,
	}
	prices := pricing.NewSource(app.DB, repos.Accounts, cache, cfg.PriceCacheTTL, app.Logger)

	app.LedgerService = service.NewLedgerService(app.DB, repos.Wallets, repos.Accounts, repos.FiatTxs, uow, app.Logger)
	app.RateService = service.NewRateService(app.DB, repos.Rates, uow, app.Logger)
	app.TransactionService = service.NewTransactionService(app.DB, repos.CryptoTxs, repos.FiatTxs, repos.Wallets, app.Logger)
	app.SettlementService = service.NewSettlementService(service.SettlementDeps{
		DB:        app.DB,
		Repos:     repos,
		Ledger:    app.LedgerService,
		Rates:     app.RateService,
		Prices:    prices,
		Transfers: custodyclient.NewClient(cfg.CustodyBaseURL, cfg.CustodyAPIKey),
		Networks:  networks,
		Cipher:    cipher,
		Sink:      sink,
		UoW:       uow,
		Config:    settlementCfg,
		Logger:    app.Logger,
	})
	app.BillPaymentService = service.NewBillPaymentService(
		app.DB,
		repos,
		app.LedgerService,
		billclient.NewClient(cfg.BillBaseURL, cfg.BillAPIKey, cfg.BillProvider),
		sink,
		uow,
		settlementCfg,
		app.Logger,
	)
	app.Logger.Info("Services initialized.")

	// 9. Retry worker and its schedule
	app.RetryWorker = service.NewRetryWorker(app.DB, repos.Failures, uow, map[domain.SettlementOperation]service.Resumer{
		domain.OperationBuy:         app.SettlementService,
		domain.OperationSell:        app.SettlementService,
		domain.OperationSend:        app.SettlementService,
		domain.OperationBillPayment: app.BillPaymentService,
	}, sink, service.RetryConfig{
		BatchSize:     cfg.RetryBatchSize,
		BaseBackoff:   cfg.RetryBaseBackoff,
		MaxBackoff:    cfg.RetryMaxBackoff,
		Lease:         cfg.RetryLease,
		NotifyTimeout: cfg.NotifyTimeout,
	}, app.Logger)
	app.Scheduler = worker.NewScheduler(app.RetryWorker, worker.Config{
		RetrySchedule:     cfg.RetrySchedule,
		ExhaustedSchedule: cfg.ExhaustedSchedule,
	}, app.Logger)

	// 10. Initialize HTTP Handlers and Router
	validate := handler.NewValidator()
	app.HTTPHandler = router.NewRouter(router.Handlers{
		Settlements:  handler.NewSettlementHandler(app.SettlementService, validate, app.Logger),
		Transactions: handler.NewTransactionHandler(app.TransactionService, validate, app.Logger),
		Rates:        handler.NewRateHandler(app.RateService, prices, validate, app.Logger),
		Bills:        handler.NewBillHandler(app.BillPaymentService, validate, app.Logger),
		Wallets:      handler.NewWalletHandler(app.LedgerService, validate, app.Logger),
	}, app.Logger)
	app.Logger.Info("HTTP router and handlers initialized.")

	return nil
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	if app.Scheduler != nil {
		app.Scheduler.Stop(ctx)
		app.Logger.Info("Scheduler stopped.")
	}
	var errs []error
	if app.Broker != nil {
		app.Broker.Close()
		app.Logger.Info("RabbitMQ connection closed.")
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Logger.Error("Failed to close Redis client", "error", err)
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", "error", err)
			errs = append(errs, fmt.Errorf("failed to close database connection: %w", err))
		} else {
			app.Logger.Info("Database connection closed.")
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	app.Logger.Info("Application shut down gracefully.")
	return nil
}
