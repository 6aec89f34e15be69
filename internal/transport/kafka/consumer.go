// Package kafka feeds orders and buyer replies from Kafka topics into the
// fulfillment services.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Consumer interface {
	ReadMessage(ctx context.Context) (*kafka.Message, error)
	Close() error
}

type MessageHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// ConsumerService reads one topic until ctx is done. The reader commits
// offsets as it reads, so a failing message is retried in place with
// backoff; once the retries run out it is logged and skipped.
type ConsumerService struct {
	name       string
	consumer   Consumer
	handler    MessageHandler
	logger     *zap.Logger
	errorPause time.Duration
	retry      func() backoff.BackOff
}

const (
	handleRetries      = 5
	handleRetryInitial = 200 * time.Millisecond
	handleRetryMax     = 5 * time.Second
)

func defaultHandleRetry() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(handleRetryInitial),
		backoff.WithMaxInterval(handleRetryMax),
		backoff.WithMaxElapsedTime(0),
	), handleRetries)
}

func NewConsumerService(name string, consumer Consumer, handler MessageHandler, logger *zap.Logger) *ConsumerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsumerService{
		name:       name,
		consumer:   consumer,
		handler:    handler,
		logger:     logger.With(zap.String("consumer", name)),
		errorPause: time.Second,
		retry:      defaultHandleRetry,
	}
}

func (c *ConsumerService) Start(ctx context.Context) error {
	c.logger.Info("kafka consumer started")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			c.logger.Error("read message", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.errorPause):
			}
			continue
		}

		if err := c.handle(ctx, *msg); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("handle message, skipping",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *ConsumerService) handle(ctx context.Context, msg kafka.Message) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.handler.Handle(ctx, msg)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("handle message failed, retrying",
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, backoff.WithContext(c.retry(), ctx))
}

func (c *ConsumerService) Close() error {
	return c.consumer.Close()
}
