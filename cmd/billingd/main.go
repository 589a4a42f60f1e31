// Command billingd serves the tenant billing API and the processor webhook
// endpoint, and runs the periodic subscription sweep.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/adminbilling/migrations"
	"github.com/dmitrymomot/adminbilling/pkg/config"
	"github.com/dmitrymomot/adminbilling/pkg/dedup"
	"github.com/dmitrymomot/adminbilling/pkg/email"
	"github.com/dmitrymomot/adminbilling/pkg/httpserver"
	"github.com/dmitrymomot/adminbilling/pkg/idempotency"
	"github.com/dmitrymomot/adminbilling/pkg/logger"
	"github.com/dmitrymomot/adminbilling/pkg/pg"
	"github.com/dmitrymomot/adminbilling/pkg/processor"
	"github.com/dmitrymomot/adminbilling/pkg/processor/stripeadapter"
	"github.com/dmitrymomot/adminbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/adminbilling/pkg/redis"
	"github.com/dmitrymomot/adminbilling/pkg/requestid"
	"github.com/dmitrymomot/adminbilling/pkg/retry"
	"github.com/dmitrymomot/adminbilling/svc/billing"
	"github.com/dmitrymomot/adminbilling/svc/checkout"
	"github.com/dmitrymomot/adminbilling/svc/dashboard"
	"github.com/dmitrymomot/adminbilling/svc/identity"
	"github.com/dmitrymomot/adminbilling/svc/plans"
	"github.com/dmitrymomot/adminbilling/svc/reconciler"
	"github.com/dmitrymomot/adminbilling/svc/subscription"
	"github.com/dmitrymomot/adminbilling/svc/sweeper"
)

type appConfig struct {
	Log          logger.Config
	HTTP         httpserver.Config
	Postgres     pg.Config
	Redis        redis.Config
	Stripe       stripeadapter.Config
	Plans        plans.Config
	Subscription subscription.Config
	Checkout     checkout.Config
	Billing      billing.Config
	Retry        retry.Config
	Email        email.Config
	RateLimit    ratelimiter.Config

	SweepSchedule  string        `env:"BILLING_SWEEP_SCHEDULE" envDefault:"@every 5m"`
	DedupCacheTTL  time.Duration `env:"BILLING_WEBHOOK_DEDUP_TTL" envDefault:"72h"`
	ReadyzTimeout  time.Duration `env:"HTTP_READYZ_TIMEOUT" envDefault:"2s"`
	MetricsEnabled bool          `env:"METRICS_ENABLED" envDefault:"true"`
}

func main() {
	cfg := config.MustLoad[appConfig]()

	log := logger.NewFromConfig(cfg.Log,
		logger.WithContextExtractors(requestid.LoggerExtractor(), logger.TenantExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("billingd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.Postgres, migrations.FS, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("failed to close redis client", logger.Error(err))
		}
	}()

	catalog, err := plans.NewCatalog(plans.Defaults(cfg.Plans)...)
	if err != nil {
		return err
	}
	if err := plans.Seed(ctx, pool, catalog); err != nil {
		return err
	}

	stripe, err := stripeadapter.New(cfg.Stripe)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	retrier := retry.New(cfg.Retry, processor.IsTransient, retry.WithNotify(func(err error, wait time.Duration) {
		log.Warn("retrying processor call",
			logger.Component("processor"),
			logger.Duration(wait),
			logger.Error(err),
		)
	}))

	subOpts, err := cfg.Subscription.Options()
	if err != nil {
		return err
	}
	subs := subscription.NewService(
		subscription.NewPostgresStore(pool, cfg.Postgres.LockTimeout),
		catalog,
		append(subOpts, subscription.WithLogger(log))...,
	)
	identities := identity.NewService(identity.NewPostgresStore(pool), identity.WithLogger(log))
	checkouts := checkout.NewService(catalog, subs, stripe, cfg.Checkout,
		checkout.WithLogger(log),
		checkout.WithRetrier(retrier),
	)
	dash := dashboard.NewService(subs, catalog,
		dashboard.WithLogger(log),
		dashboard.WithProcessor(stripe),
		dashboard.WithProcessorTimeout(cfg.Retry.AttemptTimeout),
	)

	notifier, err := newNotifier(cfg.Email, identities, catalog, log)
	if err != nil {
		return err
	}

	ledger := dedup.NewLayered(
		dedup.NewPostgres(pool),
		dedup.NewRedis(rdb, cfg.Redis.KeyPrefix, cfg.DedupCacheTTL),
		log,
	)
	webhooks := reconciler.NewService(stripe, ledger, identities, subs, catalog,
		reconciler.WithLogger(log),
		reconciler.WithProcessor(stripe),
		reconciler.WithRetrier(retrier),
		reconciler.WithMetrics(reconciler.NewMetrics(reg)),
		reconciler.WithNotifier(notifier),
	)

	api := billing.NewService(billing.Deps{
		Subscriptions: subs,
		Identities:    identities,
		Checkout:      checkouts,
		Dashboard:     dash,
		Catalog:       catalog,
		Processor:     stripe,
	}, cfg.Billing, billing.WithLogger(log), billing.WithRetrier(retrier))

	handlerOpts := []billing.HandlerOption{
		billing.WithHandlerLogger(log),
		billing.WithIdempotency(idempotency.NewRedisStore(rdb),
			idempotency.WithPrefix(cfg.Redis.KeyPrefix),
			idempotency.WithTTL(cfg.Billing.IdempotencyTTL),
		),
	}
	if cfg.RateLimit.Enabled {
		store := ratelimiter.NewRedisStore(rdb, ratelimiter.WithKeyPrefix(redis.Key(cfg.Redis.KeyPrefix, "ratelimit")))
		bucket, err := ratelimiter.NewBucket(store, cfg.RateLimit)
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, billing.WithRateLimit(bucket))
	}
	handler := billing.NewHandler(api, identities, webhooks, handlerOpts...)

	sweep, err := sweeper.New(subs, cfg.SweepSchedule,
		sweeper.WithLogger(log),
		sweeper.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}
	sweep.Start()

	router := chi.NewRouter()
	if cfg.MetricsEnabled {
		router.Use(httpserver.NewMetrics(reg).Middleware)
		router.Handle("/metrics", httpserver.MetricsHandler(reg))
	}
	router.Get("/healthz", httpserver.Liveness())
	router.Get("/readyz", httpserver.Readiness(log, cfg.ReadyzTimeout, map[string]httpserver.Check{
		"postgres": pg.Healthcheck(pool),
		"redis":    redis.Healthcheck(rdb),
	}))
	router.Mount("/", handler.Routes())

	srv := httpserver.NewFromConfig(cfg.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithDrainHook(func() {
			// let an in-flight sweep finish before the pool closes
			<-sweep.Stop().Done()
		}),
	)
	if err := srv.Run(ctx, router); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newNotifier(cfg email.Config, identities identity.Service, catalog plans.Catalog, log *slog.Logger) (reconciler.Notifier, error) {
	switch {
	case cfg.Enabled():
		sender, err := email.NewPostmark(cfg)
		if err != nil {
			return nil, err
		}
		return reconciler.NewEmailNotifier(sender, identities, catalog, log), nil
	case cfg.DevDir != "":
		return reconciler.NewEmailNotifier(email.NewDirSender(cfg.DevDir), identities, catalog, log), nil
	default:
		return reconciler.NewLogNotifier(log), nil
	}
}
