package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gozon/storefront/internal/auth"
	"gozon/storefront/internal/cache"
	"gozon/storefront/internal/catalog"
	"gozon/storefront/internal/checkout"
	"gozon/storefront/internal/config"
	"gozon/storefront/internal/httpapi"
	"gozon/storefront/internal/order"
	"gozon/storefront/internal/payment"
	"gozon/storefront/internal/storage"
	"gozon/storefront/internal/websocket"
	"gozon/storefront/pkg/messaging"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	cache     *cache.Cache
	wsHub     *websocket.Hub
	relay     *websocket.Relay
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	consumer  *messaging.Consumer
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set")
	}

	store, err := storage.New(ctx, cfg.DatabaseURL, cfg.AutoMigrate)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, store: store}

	var orderCache order.Cache
	if cfg.RedisAddr != "" {
		a.cache, err = cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.OrderCacheTTL)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		orderCache = a.cache
	} else {
		logger.Warn("REDIS_ADDR is empty, user order lists are not cached")
	}

	a.publisher, err = messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.CheckoutExchange)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.consumer, err = messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.CheckoutExchange, cfg.StatusQueue, true, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	catalogSvc := catalog.NewService(store.Pool())
	orderSvc := order.NewService(store.Pool(), orderCache, logger)
	stripe := payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	checkoutStore := checkout.NewPgStore(store.Pool())

	checkoutSvc := checkout.NewService(catalogSvc, stripe, checkoutStore, checkout.Options{
		Currency:    cfg.Currency,
		FrontendURL: cfg.FrontendURL,
	}, logger)
	reconciler := checkout.NewReconciler(stripe, checkoutStore, orderSvc, logger)

	a.wsHub = websocket.NewHub()
	a.relay = websocket.NewRelay(a.wsHub)
	wsHandler := websocket.NewHandler(a.wsHub, checkoutSvc, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Catalog:   catalogSvc,
		Orders:    orderSvc,
		Checkout:  checkoutSvc,
		Webhooks:  reconciler,
		Auth:      auth.NewVerifier(cfg.JWTSecret),
		SessionWS: wsHandler.ServeWS,
	}, logger)
	a.httpSrv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	a.outbox = messaging.NewOutboxDispatcher(
		messaging.NewPgOutbox(store.Pool(), "checkout_outbox"),
		a.publisher, cfg.OutboxInterval, cfg.OutboxBatchSize, logger,
	)

	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	a.outbox.Start(ctx)

	go a.wsHub.Run(ctx)

	go func() {
		errCh <- a.consumer.Start(ctx, a.relay.Handle)
	}()

	go func() {
		a.logger.Info("storefront http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err == nil {
			return errors.New("checkout event consumer stopped")
		}
		return err
	}
}

// Close releases whatever New managed to open.
func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()

	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", "err", err)
		}
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	a.store.Close()
}

// Migrate applies the embedded schema and exits.
func Migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := storage.New(ctx, cfg.DatabaseURL, true)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer store.Close()

	names, err := storage.Migrations()
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "count", len(names))
	return nil
}
