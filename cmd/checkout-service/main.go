package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eytgaming/checkout-service/internal/cart"
	"github.com/eytgaming/checkout-service/internal/catalog"
	"github.com/eytgaming/checkout-service/internal/checkout"
	"github.com/eytgaming/checkout-service/internal/config"
	"github.com/eytgaming/checkout-service/internal/db"
	"github.com/eytgaming/checkout-service/internal/events"
	checkoutHttp "github.com/eytgaming/checkout-service/internal/handler/http"
	"github.com/eytgaming/checkout-service/internal/inventory"
	"github.com/eytgaming/checkout-service/internal/maintenance"
	"github.com/eytgaming/checkout-service/internal/order"
	"github.com/eytgaming/checkout-service/internal/payment"
	"github.com/eytgaming/checkout-service/internal/refund"
	"github.com/eytgaming/checkout-service/internal/webhook"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App.Env)
	log.Info().Str("env", cfg.App.Env).Msg("Starting checkout-service")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer connectCancel()
	pg, err := db.New(connectCtx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	publisher := newPublisher(cfg.Events)
	registry := newGatewayRegistry(cfg)

	catalogRepo := catalog.NewRepository(pg.Pool)
	cartRepo := cart.NewRepository(pg.Pool)
	orderRepo := order.NewRepository(pg.Pool)
	paymentRepo := payment.NewRepository(pg.Pool)
	webhookRepo := webhook.NewRepository(pg.Pool)
	ledger := inventory.NewLedger(pg.Pool, cfg.Checkout.MaxLineQuantity)

	cartSvc := cart.NewService(cartRepo, catalogRepo, cfg.Checkout.MaxLineQuantity)
	orderSvc := order.NewService(pg.Pool, orderRepo, cartRepo, catalogRepo, ledger, publisher, order.Config{
		NumberPrefix: cfg.Checkout.OrderNumberPrefix,
		LockTimeout:  cfg.Checkout.LockTimeout,
	})
	checkoutSvc := checkout.NewService(pg.Pool, orderSvc, paymentRepo, registry)
	reconciler := webhook.NewReconciler(pg.Pool, registry, webhookRepo, paymentRepo, orderRepo, ledger, publisher)
	coordinator := refund.NewCoordinator(pg.Pool, paymentRepo, registry, ledger, publisher)

	sweeper := maintenance.NewSweeper(cartRepo, webhookRepo, maintenance.Config{
		Interval:       cfg.Maintenance.SweepInterval,
		CartIdleAfter:  cfg.Maintenance.CartRetention,
		EventRetention: cfg.Maintenance.WebhookRetention,
	})
	go sweeper.Run(rootCtx)

	router := checkoutHttp.NewRouter(checkoutHttp.Services{
		Carts:      cartSvc,
		Orders:     orderSvc,
		Checkout:   checkoutSvc,
		Refunds:    coordinator,
		Payments:   paymentRepo,
		Ledger:     ledger,
		Reconciler: reconciler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close event publisher")
	}
	pg.Close()

	log.Info().Msg("Checkout-service stopped gracefully")
}

func setupLogger(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func newPublisher(cfg config.EventsConfig) events.Publisher {
	if cfg.AMQPURL == "" {
		log.Info().Msg("AMQP_URL not set, domain events will not be published")
		return events.Nop{}
	}

	publisher, err := events.NewRabbitPublisher(events.RabbitConfig{
		URL:      cfg.AMQPURL,
		Exchange: cfg.Exchange,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	return publisher
}

// newGatewayRegistry registers an adapter for every gateway whose
// credentials are configured.
func newGatewayRegistry(cfg *config.Config) *payment.Registry {
	var gateways []payment.Gateway

	if cfg.Stripe.SecretKey != "" {
		gateways = append(gateways, payment.NewStripeGateway(
			cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.BaseURL))
	}
	if cfg.Paystack.SecretKey != "" {
		gateways = append(gateways, payment.NewPaystackGateway(
			cfg.Paystack.SecretKey, cfg.Paystack.WebhookSecret, cfg.Paystack.BaseURL))
	}

	registry := payment.NewRegistry(gateways...)
	if len(gateways) == 0 {
		log.Warn().Msg("No payment gateways configured, checkout will reject every payment method")
	} else {
		log.Info().Strs("gateways", registry.Names()).Msg("Payment gateways registered")
	}
	return registry
}
