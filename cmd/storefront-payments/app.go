package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"storefront-payments/internal/config"
	"storefront-payments/internal/database"
	"storefront-payments/internal/idempotency"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/messaging"
	"storefront-payments/internal/messaging/kafka"
	"storefront-payments/internal/repo"
	"storefront-payments/internal/service"
)

// app holds every wired dependency a command may need.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	orders  repo.OrderRepo
	payouts repo.PayoutRepo
	events  repo.WebhookEventRepo
	sellers repo.SellerRepo

	gateway     payment.PaymentGateway
	idempotency idempotency.Store

	checkout   service.CheckoutService
	status     service.StatusService
	webhooks   service.WebhookService
	payoutSvc  service.PayoutService
	reconciler service.Reconciler
	paidEvents service.PaidEventRelay

	health  func(ctx context.Context) map[string]string
	closers []func() error
}

func newLogger(json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("LOG_LEVEL") == "debug" {
		opts.Level = slog.LevelDebug
	}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		mem := repo.NewMemoryStore()
		a.orders, a.payouts, a.events, a.sellers = mem.Orders(), mem.Payouts(), mem.WebhookEvents(), mem.Sellers()
		a.health = func(context.Context) map[string]string {
			return map[string]string{"status": "up", "store": "memory"}
		}
	default:
		db, err := database.NewPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.orders = repo.NewOrderRepo(db.DB())
		a.payouts = repo.NewPayoutRepo(db.DB())
		a.events = repo.NewWebhookEventRepo(db.DB())
		a.sellers = repo.NewSellerRepo(db.DB())
		a.health = db.Health
	}

	a.gateway = payment.NewClient(cfg.Gateway)

	var publisher messaging.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		p, closeFn := kafka.NewPublisher(cfg.KafkaBrokers)
		publisher = p
		a.closers = append(a.closers, closeFn)
		logger.Info("publishing order events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaOrderPaidTopic)
	} else {
		publisher = messaging.NewLogPublisher(logger)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, idempotency keys will degrade to pass-through until it recovers", "addr", cfg.RedisAddr, "err", err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.idempotency = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
	} else {
		a.idempotency = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	paidHook := service.NewPublishingPaidHook(publisher, cfg.KafkaOrderPaidTopic)
	a.reconciler = service.NewReconciler(a.orders, paidHook, logger)
	a.paidEvents = service.NewPaidEventRelay(a.orders, paidHook, logger)
	a.payoutSvc = service.NewPayoutService(cfg, a.orders, a.payouts, a.sellers, a.gateway, logger)
	a.checkout = service.NewCheckoutService(cfg, a.orders, a.gateway, logger)
	a.status = service.NewStatusService(a.orders, a.gateway, a.reconciler, logger)
	a.webhooks = service.NewWebhookService(cfg.Gateway.WebhookSecret, a.orders, a.events, a.reconciler, a.payoutSvc, logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
