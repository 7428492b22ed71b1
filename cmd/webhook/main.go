// Package main запускает приёмник уведомлений платёжной системы.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gamehub-rewards/internal/archive"
	"github.com/mmeshcher/gamehub-rewards/internal/auditlog"
	"github.com/mmeshcher/gamehub-rewards/internal/catalog"
	"github.com/mmeshcher/gamehub-rewards/internal/config"
	"github.com/mmeshcher/gamehub-rewards/internal/handler"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
	"github.com/mmeshcher/gamehub-rewards/internal/service"
)

const archivePrefix = "stripe-webhooks"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if cfg.StripeWebhookSecret == "" {
		sugar.Fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	// Заказы создаёт API, поэтому приёмнику нужно общее с ним хранилище.
	if cfg.DatabaseURI == "" {
		sugar.Fatal("DATABASE_URI is required")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	rewards := catalog.Default()
	if cfg.CatalogPath != "" {
		if rewards, err = catalog.Load(cfg.CatalogPath); err != nil {
			sugar.Fatalw("catalog load error", "path", cfg.CatalogPath, "error", err.Error())
		}
	}

	svc := service.NewService(repo, service.Options{
		Catalog:  rewards,
		Logger:   logger,
		Location: cfg.Location(),
	})
	defer svc.Close()

	audit, err := auditlog.New(cfg.WebhookLogDir)
	if err != nil {
		sugar.Fatalw("audit log initialization error", "error", err.Error())
	}
	defer audit.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.AuditArchiveBucket != "" {
		archiver, err := archive.New(ctx, cfg.AuditArchiveBucket, archivePrefix, logger)
		if err != nil {
			sugar.Fatalw("archive initialization error", "error", err.Error())
		}

		rotated := make(chan string, 8)
		audit.OnRotate = func(path string) {
			select {
			case rotated <- path:
			default:
				logger.Warn("archive queue is full", zap.String("file", path))
			}
		}

		g.Go(func() error {
			archiver.Run(ctx, rotated)
			return nil
		})
	}

	h, err := handler.NewWebhookHandler(svc, cfg.StripeWebhookSecret, audit, logger)
	if err != nil {
		sugar.Fatalw("webhook handler initialization error", "error", err.Error())
	}

	server := &http.Server{
		Addr:    cfg.WebhookAddress,
		Handler: h.SetupRouter(),
	}

	g.Go(func() error {
		sugar.Infow("starting webhook receiver", "addr", cfg.WebhookAddress, "logDir", cfg.WebhookLogDir)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down webhook receiver...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("webhook receiver stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
