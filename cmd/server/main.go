package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rafidhiya/baby-spa-backend/internal/config"
	"github.com/rafidhiya/baby-spa-backend/internal/database"
	"github.com/rafidhiya/baby-spa-backend/internal/gateway"
	"github.com/rafidhiya/baby-spa-backend/internal/handler"
	"github.com/rafidhiya/baby-spa-backend/internal/logging"
	"github.com/rafidhiya/baby-spa-backend/internal/metrics"
	"github.com/rafidhiya/baby-spa-backend/internal/middleware"
	"github.com/rafidhiya/baby-spa-backend/internal/queue"
	"github.com/rafidhiya/baby-spa-backend/internal/repository"
	"github.com/rafidhiya/baby-spa-backend/internal/router"
	"github.com/rafidhiya/baby-spa-backend/internal/scheduler"
	"github.com/rafidhiya/baby-spa-backend/internal/service"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Env)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	metrics.Register()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	services := repository.NewServiceRepo(db)
	sessions := repository.NewSessionRepo(db)
	reservations := repository.NewReservationRepo(db)
	payments := repository.NewPaymentRepo(db)
	notifications := repository.NewNotificationRepo(db)

	tripay := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.TripayBaseURL,
		APIKey:       cfg.TripayAPIKey,
		PrivateKey:   cfg.TripayPrivateKey,
		MerchantCode: cfg.TripayMerchantCode,
		RefPrefix:    cfg.MerchantRefPrefix,
	})

	publisher := queue.NewPublisher(cfg.AMQPURL, log)
	sched := scheduler.New(db, payments, reservations, sessions, publisher, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Re-arm expiry timers for payments still pending from before the
	// last restart. Overdue ones are left to the cron sweep.
	if err := sched.InitializeFromStore(ctx); err != nil {
		log.Error().Err(err).Msg("expiry timer re-hydration failed")
	}

	consumer := queue.NewConsumer(cfg.AMQPURL, notifications, users, log)
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("notification consumer stopped")
		}
	}()

	bookings := service.NewReservationService(db, reservations, payments, sessions, services, users, tripay, sched, publisher, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), config.NewRedisClient()))

	router.Register(e, router.Handlers{
		Auth:          handler.NewAuthHandler(cfg, users, tokens),
		Catalog:       handler.NewCatalogHandler(services, sessions, tripay),
		Reservations:  handler.NewReservationHandler(bookings, reservations),
		Owner:         handler.NewOwnerHandler(bookings, reservations, sessions),
		Notifications: handler.NewNotificationHandler(notifications),
		Callback: handler.NewCallbackHandler(
			db, payments, reservations, sessions, tripay, sched, publisher, cfg.IsProduction(), log),
		Cron: handler.NewCronHandler(sched, cfg.CronSecret),
	}, cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server start failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
