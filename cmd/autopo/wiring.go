package main

import (
	"context"
	"errors"
	"fmt"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/adapters/notify"
	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/config"
	"github.com/garvit124/AutoPO/internal/outbox"
	"github.com/garvit124/AutoPO/internal/storage/postgres"
	"github.com/garvit124/AutoPO/internal/storage/redisledger"
	"github.com/garvit124/AutoPO/internal/storage/sqlite"
	transporthttp "github.com/garvit124/AutoPO/internal/transport/http"
	"github.com/garvit124/AutoPO/migrations"
)

// backend is the set of repositories the services run against.
type backend struct {
	orders    app.OrderRepository
	inventory app.InventoryRepository
	admin     app.InventoryAdminRepository
	outbox    outbox.Store
	tasks     app.TaskQueue
	ready     map[string]transporthttp.Pinger
	closers   []func() error

	// holds is set when stock lives in Redis; its holds need reconciling.
	holds *redisledger.Ledger
}

func (b *backend) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, b.closers[i]())
	}
	return err
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{ready: map[string]transporthttp.Pinger{}}

	switch cfg.StorageDriver {
	case config.StorageDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		b.orders, b.inventory, b.admin = store, store, store
		b.outbox, b.tasks = store, store
		b.ready["sqlite"] = store
		logger.Info("storage ready", zap.String("driver", cfg.StorageDriver), zap.String("path", cfg.SQLitePath))
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		inventory := postgres.NewInventoryRepository(pool)
		tasks := postgres.NewOutboxRepository(pool)
		b.orders = postgres.NewOrderRepository(pool)
		b.inventory, b.admin = inventory, inventory
		b.outbox, b.tasks = tasks, tasks
		b.ready["postgres"] = pool
		logger.Info("storage ready", zap.String("driver", cfg.StorageDriver))
	}

	if cfg.LedgerDriver == config.LedgerDriverRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, client.Close)
		ledger := redisledger.New(client, redisledger.WithLogger(logger))
		if err := ledger.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.inventory, b.admin = ledger, ledger
		b.holds = ledger
		b.ready["redis"] = ledger
		logger.Info("stock ledger ready", zap.String("driver", cfg.LedgerDriver), zap.String("addr", cfg.RedisAddr))
	}

	return b, nil
}

func newNotifier(cfg config.Config, tp trace.TracerProvider, logger *zap.Logger) (app.Notifier, func() error, error) {
	if cfg.Notifier != config.NotifierKafka {
		return notify.NewLogNotifier(logger), func() error { return nil }, nil
	}

	baseWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaNotificationsTopic,
		Balancer: &kafka.LeastBytes{},
	}
	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.KafkaNotificationsTopic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka writer: %w", err)
	}
	notifier := notify.NewKafkaNotifier(writer)
	return notifier, notifier.Close, nil
}

func newKafkaReader(cfg config.Config, topic string) (*otelkafka.Reader, error) {
	baseReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   topic,
		GroupID: cfg.KafkaGroupID,
	})
	reader, err := otelkafka.NewReader(baseReader)
	if err != nil {
		_ = baseReader.Close()
		return nil, fmt.Errorf("kafka reader %s: %w", topic, err)
	}
	return reader, nil
}
