package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/restaurant-orders/internal/auth"
	"github.com/vasiliy-maslov/restaurant-orders/internal/cache"
	"github.com/vasiliy-maslov/restaurant-orders/internal/config"
	"github.com/vasiliy-maslov/restaurant-orders/internal/db"
	"github.com/vasiliy-maslov/restaurant-orders/internal/handler"
	"github.com/vasiliy-maslov/restaurant-orders/internal/menu"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
	"github.com/vasiliy-maslov/restaurant-orders/internal/payment"
	"github.com/vasiliy-maslov/restaurant-orders/internal/push"
	"github.com/vasiliy-maslov/restaurant-orders/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "order-service").Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
	}
	log.Info().Msg("Connected to Redis")

	hub := push.NewHub()
	repo := order.NewRepository(pg.Pool)
	catalog := menu.NewCatalog(pg.Pool)
	staff := auth.NewPgStaffDirectory(pg.Pool)
	svc := order.NewService(repo, catalog, staff, hub)

	payments := payment.NewService(repo, svc, cache.NewIdempotency(redisClient, "orders"), payment.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		FrontendURL:   cfg.App.FrontendURL,
	})

	if cfg.Orders.PendingTTL > 0 {
		expirer := order.NewExpirer(repo, svc, cfg.Orders.PendingTTL, cfg.Orders.ExpirerPeriod)
		go expirer.Run(ctx)
	}

	resolver := auth.NewHeaderResolver()
	orders := handler.NewOrderHandler(svc, payments, resolver)
	ws := push.NewWSHandler(hub, resolver, staff)

	srv := &http.Server{
		Addr:        ":" + cfg.App.Port,
		Handler:     transport.NewRouter(orders, ws),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
