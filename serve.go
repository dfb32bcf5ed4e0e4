package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"ms-fulfillment/internal/auth"
	"ms-fulfillment/internal/fulfillment"
	"ms-fulfillment/internal/kafka"
	"ms-fulfillment/internal/kitchen"
	kitchendb "ms-fulfillment/internal/kitchen/db"
	"ms-fulfillment/internal/kitchen/kitchen_api"
	"ms-fulfillment/internal/notify"
	"ms-fulfillment/internal/order"
	orderdb "ms-fulfillment/internal/order/db"
	"ms-fulfillment/internal/order/order_api"
	rediswrap "ms-fulfillment/internal/order/redis"
	"ms-fulfillment/internal/payment"
	"ms-fulfillment/internal/payment/services"
	"ms-fulfillment/internal/pricing"
	"ms-fulfillment/internal/reconcile"
	"ms-fulfillment/internal/sse"
	"ms-fulfillment/internal/utils"
)

// core holds what both serve and reconcile need: storage, the kitchen,
// notifications and the event publishers.
type core struct {
	db         *bun.DB
	orders     *orderdb.DB
	producer   *kafka.Producer
	board      *sse.KitchenBoardEmitter
	dispatcher *notify.Dispatcher
	kitchen    *kitchen.Service
	reconciler *reconcile.Reconciler
}

func (c *core) Close() {
	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	c.db.Close()
}

func buildCore(ctx context.Context) (*core, error) {
	bunDB, err := openDatabase(ctx, cfg.Database.AutoMigrate)
	if err != nil {
		return nil, err
	}
	c := &core{
		db:     bunDB,
		orders: &orderdb.DB{Bun: bunDB},
		board:  sse.NewKitchenBoardEmitter(),
	}

	var (
		ticketEvents kitchen.TicketPublisher = c.board
		orderEvents  kitchen.OrderPublisher
	)
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.Orders, cfg.Kafka.Topics.Kitchen}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		c.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Orders, cfg.Kafka.Topics.Kitchen, log)
		ticketEvents, orderEvents = c.producer, c.producer
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled, ticket events go straight to local board clients")
	}

	var sms notify.Sender
	if cfg.SMS.GatewayURL != "" {
		sms = notify.NewSMSSender(cfg.SMS, &http.Client{Timeout: cfg.Notify.SendTimeout})
	}
	c.dispatcher = notify.NewDispatcher(c.orders, notify.NewSMTPSender(cfg.Email), sms,
		notify.NewComposer(cfg.Restaurant.Name), cfg.Notify.SendTimeout, log)

	c.kitchen = kitchen.NewService(&kitchendb.DB{Bun: bunDB}, c.orders, c.dispatcher, ticketEvents, orderEvents, log)
	c.reconciler = reconcile.NewReconciler(c.orders, c.kitchen, c.dispatcher, cfg.Reconcile, log)
	return c, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the kitchen board feed and the reconciler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	log.Info("APP", "Starting fulfillment service initialization")

	c, err := buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unreachable at %s, 86-list checks will fail open: %v", cfg.Redis.Addr, err))
	} else {
		log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
	}
	availability := rediswrap.NewAvailability(redisClient, cfg.Redis.UnavailableKey, log)

	stripeSvc, err := services.NewStripeService(cfg.Stripe, log)
	if err != nil {
		return fmt.Errorf("stripe: %w", err)
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("CONFIG", "STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	var orderEvents order.EventPublisher
	var processorEvents fulfillment.OrderPublisher
	if c.producer != nil {
		orderEvents, processorEvents = c.producer, c.producer
	}

	policy := pricing.Policy{TaxRateBps: cfg.Pricing.TaxRateBps, ServiceFeeBps: cfg.Pricing.ServiceFeeBps}
	orderSvc := order.NewOrderService(c.orders, availability, orderEvents, c.kitchen, policy, log)
	payments := payment.NewManager(c.orders, stripeSvc, cfg.Stripe.Currency, cfg.Pricing.MaxTipCents, log)
	processor := fulfillment.NewProcessor(stripeSvc, c.orders, c.kitchen, c.dispatcher, processorEvents, cfg.Webhook.ProcessTimeout, log)

	authenticator, err := auth.FromConfig(ctx, cfg.Auth, log)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	orderHandler := order_api.NewHandler(orderSvc, payments, c.dispatcher, availability, log)
	kitchenHandler := kitchen_api.NewHandler(c.kitchen, c.board, log)
	webhookHandler := fulfillment.NewWebhookHandler(processor, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", healthz(c.db, redisClient))
	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookHandler.StripeWebhook)
		orderHandler.PublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(authenticator.Middleware)
			orderHandler.StaffRoutes(r)
			kitchenHandler.Routes(r)
		})
	})
	log.Info("ROUTER", "Routes registered under /api")

	g, gctx := errgroup.WithContext(ctx)
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // the board stream holds connections open
		IdleTimeout:  cfg.Server.IdleTimeout,
		// Open board streams end when the service shuts down.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Fulfillment service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Kafka.Enabled {
		// Every instance reads the whole kitchen topic so each one can feed
		// its own board clients.
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, uuid.NewString()[:8])
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Kitchen, groupID, log)
		defer consumer.Close()
		g.Go(func() error {
			return consumer.RunTicketEvents(gctx, c.board.Emit)
		})
	}
	g.Go(func() error {
		return c.reconciler.Run(gctx)
	})

	err = g.Wait()
	log.Info("APP", "Fulfillment service stopped")
	return err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func healthz(db *bun.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"database": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		// Redis only backs the 86-list, which fails open.
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			status["redis"] = err.Error()
		}
		utils.WriteJSON(w, code, status)
	}
}
