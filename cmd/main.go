package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/auth"
	"gamehub/payment-settlement/internal/config"
	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/deposit/inmem"
	"gamehub/payment-settlement/internal/deposit/mongostore"
	"gamehub/payment-settlement/internal/deposit/pgstore"
	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/gateway/flutterwave"
	"gamehub/payment-settlement/internal/gateway/paystack"
	"gamehub/payment-settlement/internal/handler"
	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/middleware"
	"gamehub/payment-settlement/internal/notify"
	"gamehub/payment-settlement/internal/reconcile"
	"gamehub/payment-settlement/internal/settlement"
	"gamehub/payment-settlement/internal/wallet"
	"gamehub/payment-settlement/internal/webhook"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.Init(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zlog.Sync()

	if err := cfg.Validate(); err != nil {
		zlog.Fatal("refusing to start", zap.Error(err))
	}

	tokenValidator, err := auth.NewValidator(cfg.JWTPublicKeyPath, cfg.JWTIssuer)
	if err != nil {
		zlog.Fatal("JWT validator init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Ledger + wallet ---
	store, localWallet, closeStore := openStore(ctx, cfg, zlog)
	defer closeStore()

	var walletMutator wallet.Mutator = localWallet
	if cfg.WalletMode == "remote" {
		walletMutator = wallet.NewHTTPClient(cfg.WalletServiceURL, cfg.InternalServiceKey, cfg.StoreTimeout)
	}

	// --- Redis (websocket push + poller lock), optional ---
	var (
		rdb    *redis.Client
		events *notify.Redis
	)
	publishers := notify.Fanout{}
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			zlog.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		events = notify.NewRedis(rdb)
		publishers = append(publishers, events)
	}

	// --- Kafka settlement stream, optional ---
	if len(cfg.KafkaBrokers) > 0 {
		writer := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, zlog)
		defer writer.Close()
		publishers = append(publishers, notify.NewKafka(writer))
	}

	// --- Providers ---
	gateways := buildGateways(cfg)
	zlog.Info("payment providers registered",
		zap.Strings("providers", gateways.Names()),
		zap.Bool("simulation", cfg.PaymentSimulation))

	coordinator := settlement.NewCoordinator(store, walletMutator, gateways, settlement.Options{
		GatewayTimeout: cfg.GatewayTimeout,
		StoreTimeout:   cfg.StoreTimeout,
		PublishTimeout: cfg.PublishTimeout,
		Publisher:      publishers,
	})

	// --- Background: sweep deposits the webhooks never settled ---
	var locker reconcile.Locker
	if rdb != nil && cfg.PollLock {
		host, _ := os.Hostname()
		locker = reconcile.NewRedisLocker(rdb, host+"-"+uuid.NewString()[:8])
	}
	poller := reconcile.New(store, coordinator, locker, reconcile.Config{
		Interval:     cfg.PollInterval,
		PendingGrace: cfg.PollPendingGrace,
		CreditGrace:  cfg.PollCreditGrace,
		Concurrency:  cfg.PollConcurrency,
		BatchSize:    cfg.PollBatchSize,
		StoreTimeout: cfg.StoreTimeout,
	})
	go poller.Run(ctx)

	h := handler.New(coordinator, store, walletMutator, gateways, events, handler.Options{
		DefaultCurrency: cfg.DefaultCurrency,
		CallbackURL:     cfg.PaystackCallback,
		StoreTimeout:    cfg.StoreTimeout,
	},
		webhook.Paystack{Secret: cfg.PaystackSecretKey},
		webhook.Flutterwave{SecretHash: cfg.FlutterwaveSecretHash},
	)

	// --- Fiber App ---
	app := fiber.New(fiber.Config{
		AppName:      "GameHub Payment Settlement",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(fiberlogger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "payment-settlement"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h.Routes(app, tokenValidator, cfg.InternalServiceKey)

	// --- Graceful Shutdown ---
	go func() {
		zlog.Info("payment settlement running", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := app.Listen(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down payment-settlement")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zlog.Warn("shutdown incomplete", zap.Error(err))
	}
}

// buildGateways registers only the providers that can confirm a payment:
// those with a secret key, plus keyless ones when simulation is switched on.
func buildGateways(cfg *config.Config) *gateway.Registry {
	gateways := gateway.NewRegistry(cfg.DefaultProvider)

	if cfg.PaystackSecretKey != "" || cfg.PaymentSimulation {
		ps := paystack.NewClient(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.PaystackSubaccount, cfg.GatewayTimeout)
		if cfg.PaymentSimulation {
			ps.Simulate()
		}
		gateways.Register(ps)
	}
	if cfg.FlutterwaveSecretKey != "" || cfg.PaymentSimulation {
		fw := flutterwave.NewClient(cfg.FlutterwaveSecretKey, cfg.FlutterwaveBaseURL, cfg.GatewayTimeout)
		if cfg.PaymentSimulation {
			fw.Simulate()
		}
		gateways.Register(fw)
	}
	return gateways
}

// openStore connects the configured backend and returns the deposit ledger,
// the wallet sharing that backend, and a close func.
func openStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (deposit.Store, wallet.Mutator, func()) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			zlog.Fatal("MongoDB connect error", zap.Error(err))
		}
		db := client.Database(cfg.MongoDatabase)

		store := mongostore.New(db)
		w := wallet.NewMongo(db)
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.EnsureIndexes(ictx); err != nil {
			zlog.Fatal("deposit indexes", zap.Error(err))
		}
		if err := w.EnsureIndexes(ictx); err != nil {
			zlog.Fatal("wallet indexes", zap.Error(err))
		}
		return store, w, func() { _ = client.Disconnect(context.Background()) }

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			zlog.Fatal("Postgres connect error", zap.Error(err))
		}
		store := pgstore.New(pool)
		w := wallet.NewPostgres(pool)
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.Migrate(mctx); err != nil {
			zlog.Fatal("deposit migration", zap.Error(err))
		}
		if err := w.Migrate(mctx); err != nil {
			zlog.Fatal("wallet migration", zap.Error(err))
		}
		return store, w, pool.Close

	default:
		zlog.Warn("using in-memory store; state is lost on restart")
		return inmem.NewStore(), wallet.NewInMemory(), func() {}
	}
}
