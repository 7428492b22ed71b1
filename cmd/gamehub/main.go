// Package main запускает HTTP API сервиса наград игрового хаба.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gamehub-rewards/internal/catalog"
	"github.com/mmeshcher/gamehub-rewards/internal/config"
	"github.com/mmeshcher/gamehub-rewards/internal/handler"
	"github.com/mmeshcher/gamehub-rewards/internal/middleware"
	"github.com/mmeshcher/gamehub-rewards/internal/payment"
	"github.com/mmeshcher/gamehub-rewards/internal/realtime"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
	"github.com/mmeshcher/gamehub-rewards/internal/service"
	"github.com/mmeshcher/gamehub-rewards/internal/testmode"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is not set, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	rewards := catalog.Default()
	if cfg.CatalogPath != "" {
		if rewards, err = catalog.Load(cfg.CatalogPath); err != nil {
			sugar.Fatalw("catalog load error", "path", cfg.CatalogPath, "error", err.Error())
		}
	}

	hub := realtime.NewHub(logger)
	opts := service.Options{
		Catalog:      rewards,
		Policy:       testmode.NewPolicy(cfg.TestModeAccounts),
		Notifier:     hub,
		Logger:       logger,
		Location:     cfg.Location(),
		PollInterval: cfg.PaymentPollInterval,
		PollWindow:   cfg.PaymentPollWindow,
	}
	if cfg.StripeSecretKey != "" {
		opts.Payments = payment.NewClient(cfg.StripeSecretKey, cfg.PublicURL)
	} else {
		sugar.Warn("STRIPE_SECRET_KEY is not set, purchases are available in test mode only")
	}

	svc := service.NewService(repo, opts)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, hub, cfg.Location())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Контексты запросов наследуют ctx: при остановке закрываются и открытые WebSocket-соединения.
	server := &http.Server{
		Addr:        cfg.RunAddress,
		Handler:     h.SetupRouter(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		svc.StartPaymentReconciliation(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting gamehub rewards server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
