package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/handler"
	"github.com/jkindrix/leadconcierge/internal/metrics"
	"github.com/jkindrix/leadconcierge/internal/shutdown"
	"github.com/jkindrix/leadconcierge/internal/webhook"
)

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the recontact scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, metrics.NewMetrics())
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	if err := a.load(ctx); err != nil {
		a.close(ctx)
		return err
	}
	svc, err := a.wire()
	if err != nil {
		a.close(ctx)
		return err
	}

	logger.Info("starting lead concierge",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Environment),
		zap.String("blob_backend", cfg.Blob.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("conversations", a.store.Len()),
	)

	coord := shutdown.NewCoordinator(&shutdown.Config{Timeout: shutdownTimeout}, logger)

	var verifier *webhook.Verifier
	if cfg.Twilio.ValidateSignature {
		verifier = webhook.NewVerifier(cfg.Twilio.AuthToken, cfg.Twilio.WebhookURL)
	} else if cfg.IsProduction() {
		logger.Error("twilio signature validation disabled in production")
	} else {
		logger.Warn("twilio signature validation disabled")
	}

	router := handler.NewRouter(handler.RouterConfig{
		Webhook: handler.NewWebhookHandler(handler.WebhookHandlerConfig{
			Processor: svc.orchestrator,
			Verifier:  verifier,
			Audit:     a.audit,
			Logger:    logger.Named("webhook"),
		}),
		Admin: handler.NewAdminHandler(handler.AdminHandlerConfig{
			State:     svc.orchestrator,
			Recontact: svc.recontact,
			Messages:  svc.messaging,
			Audit:     a.audit,
			Logger:    logger.Named("admin"),
		}),
		Health: handler.NewHealthHandler(handler.HealthHandlerConfig{
			Storage:   a.storage,
			Dedupe:    svc.dedupeHealth,
			Messaging: svc.messaging,
			Draining:  coord.Draining,
			Version:   version,
			Logger:    logger.Named("health"),
		}),
		LogLevel:     a.log,
		Metrics:      a.metrics,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if err := svc.recontact.Start(ctx); err != nil {
		a.close(ctx)
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	a.audit.ServiceStarted(ctx, version, cfg.Blob.Backend)

	coord.RegisterFunc(shutdown.PhaseStopIntake, "http-server", server.Shutdown)
	coord.RegisterFunc(shutdown.PhaseDrain, "recontact", svc.recontact.Stop)
	coord.RegisterFunc(shutdown.PhaseFlush, "conversations", func(ctx context.Context) error {
		lock := svc.orchestrator.Locker()
		lock.Lock()
		defer lock.Unlock()
		return a.store.Save(ctx)
	})
	coord.RegisterFunc(shutdown.PhaseClose, "connections", func(ctx context.Context) error {
		a.close(ctx)
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	reason := "signal"
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		reason = sig.String()
	case runErr = <-serverErr:
		logger.Error("server failed", zap.Error(runErr))
		reason = "server error"
	case <-ctx.Done():
		reason = "context cancelled"
	}
	a.audit.ServiceStopping(context.Background(), reason)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

