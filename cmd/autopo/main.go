package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/adapters/compose"
	"github.com/garvit124/AutoPO/internal/adapters/invoice"
	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/config"
	"github.com/garvit124/AutoPO/internal/observability"
	"github.com/garvit124/AutoPO/internal/outbox"
	transporthttp "github.com/garvit124/AutoPO/internal/transport/http"
	transportkafka "github.com/garvit124/AutoPO/internal/transport/kafka"
)

const shutdownTimeout = 10 * time.Second

func main() {
	bootstrap, err := zap.NewProduction()
	if err != nil {
		bootstrap = zap.NewNop()
	}
	loadEnvFile(bootstrap)

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := observability.Setup(ctx, observability.Settings{
		ServiceName:    config.ServiceName,
		ServiceVersion: config.ServiceVersion,
		Endpoint:       cfg.OtelEndpoint,
		AuthHeader:     cfg.OtelAuthHeader,
	})
	logger := tel.Logger
	if err != nil {
		logger.Warn("telemetry export disabled", zap.Error(err))
	}
	_ = bootstrap.Sync()

	if err := run(ctx, cfg, tel); err != nil {
		logger.Error("autopo stopped", zap.Error(err))
		shutdownTelemetry(tel)
		os.Exit(1)
	}
	shutdownTelemetry(tel)
}

func run(ctx context.Context, cfg config.Config, tel *observability.Telemetry) error {
	logger := tel.Logger
	tracer := tel.Tracer(config.ServiceName)
	clk := clock.NewSystem()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close storage", zap.Error(err))
		}
	}()

	intake := app.NewIntakeService(store.orders, clk, logger)
	fulfillment := app.NewFulfillmentService(store.orders, store.inventory, store.tasks, clk,
		app.WithLogger(logger),
		app.WithTracer(tracer),
	)
	inventory := app.NewInventoryService(store.admin)

	notifier, closeNotifier, err := newNotifier(cfg, tel.TracerProvider, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeNotifier() }()

	composer := compose.New(compose.Settings{
		URL:     cfg.ComposerURL,
		Model:   cfg.ComposerModel,
		Timeout: cfg.ComposerTimeout,
	}, logger)
	notices := app.NewNoticeHandler(invoice.NewGenerator(cfg.InvoiceDir), composer, notifier, clk,
		app.WithSignature(cfg.EmailSignature),
		app.WithNoticeLogger(logger),
	)
	dispatcher := outbox.NewDispatcher(store.outbox, notices, clk,
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithLogger(logger),
		outbox.WithTracer(tracer),
	)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		_ = dispatcher.Run(workCtx)
	}()

	if store.holds != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = store.holds.Run(workCtx, store.orders, cfg.LedgerReconcileInterval, cfg.LedgerHoldGrace)
		}()
	}

	if cfg.KafkaEnabled() {
		consumers := []struct {
			name    string
			topic   string
			handler transportkafka.MessageHandler
		}{
			{"orders", cfg.KafkaOrdersTopic, transportkafka.NewOrderHandler(intake, fulfillment, logger)},
			{"replies", cfg.KafkaRepliesTopic, transportkafka.NewReplyHandler(fulfillment, logger)},
		}
		for _, c := range consumers {
			reader, err := newKafkaReader(cfg, c.topic)
			if err != nil {
				cancelWork()
				workers.Wait()
				return err
			}
			svc := transportkafka.NewConsumerService(c.name, reader, c.handler, logger)
			workers.Add(1)
			go func() {
				defer workers.Done()
				defer svc.Close()
				if err := svc.Start(workCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("kafka consumer stopped", zap.Error(err))
				}
			}()
			logger.Info("kafka consumer enabled", zap.String("consumer", c.name), zap.String("topic", c.topic))
		}
	}

	handler := transporthttp.NewHandler(transporthttp.Services{
		Intake:      intake,
		Orders:      fulfillment,
		Inventory:   inventory,
		Ready:       store.ready,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErr:
		serveErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancelWork()
	workers.Wait()
	logger.Info("shutdown complete")
	return serveErr
}

func shutdownTelemetry(tel *observability.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = tel.Shutdown(ctx)
}
