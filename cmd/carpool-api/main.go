// README: Service entrypoint: config, infra, wiring, graceful shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpool/internal/auth"
	"carpool/internal/config"
	"carpool/internal/gateway"
	httpapi "carpool/internal/http"
	"carpool/internal/infra"
	"carpool/internal/logger"
	"carpool/internal/modules/audit"
	"carpool/internal/modules/driver"
	"carpool/internal/modules/notification"
	"carpool/internal/modules/order"
	"carpool/internal/modules/pool"
	"carpool/internal/modules/review"
	"carpool/internal/payment"
)

func main() {
	log := logger.New("carpool-api")

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	cancel()
	if err != nil {
		log.Error("database connect failed", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	rdb := infra.NewRedis(cfg.Redis.Addr)
	defer rdb.Close()

	tokens := auth.NewManager(cfg.Auth.JWTSecret)
	poolStore := pool.NewStore(rdb)
	hub := gateway.NewHub(poolStore, log)

	orderStore := order.NewStore(db)
	auditStore := audit.NewStore(db, log)
	notifier := notification.NewService(notification.NewStore(db), hub, poolStore, log)
	refunder := payment.NewClient(cfg.Payment.BaseURL)
	orderSvc := order.NewService(orderStore, auditStore, notifier, refunder, log)
	reviewSvc := review.NewService(review.NewStore(db), orderStore, notifier, log)

	sweep, err := order.NewSweep(orderSvc, cfg.Sweep.Schedule, cfg.Sweep.MatchTimeout, log)
	if err != nil {
		log.Error("sweep schedule invalid", logger.Error(err))
		os.Exit(1)
	}

	router := httpapi.NewRouter(httpapi.Handlers{
		Orders:        httpapi.NewOrderHandler(orderSvc),
		Notifications: httpapi.NewNotificationHandler(notifier),
		Reviews:       httpapi.NewReviewHandler(reviewSvc),
		Drivers:       httpapi.NewDriverHandler(driver.NewStore(db), poolStore),
		Audit:         httpapi.NewAuditHandler(auditStore),
		Gateway:       httpapi.NewGatewayHandler(hub, tokens, orderStore, poolStore, log),
	}, tokens, log)
	server := httpapi.NewServer(cfg.HTTP.Addr, router, log)

	sweep.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server stopped", logger.Error(err))
			os.Exit(1)
		}
	case sig := <-quit:
		log.Info("shutting down", logger.String("signal", sig.String()))
	}

	sweep.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("bye")
}
