package redisledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/domain"
)

// OrderReader reads the committed state of an order.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

type ReconcileResult struct {
	Settled  int
	Released int
	Skipped  int
}

// Reconcile resolves holds untouched for at least grace against the order's
// committed status. Orders that committed a reservation keep the units and
// the hold is dropped; any other order gets its units back. grace must
// exceed the longest fulfillment transaction.
func (l *Ledger) Reconcile(ctx context.Context, orders OrderReader, grace time.Duration) (ReconcileResult, error) {
	var result ReconcileResult
	cutoff := strconv.FormatInt(l.clock.Now().Add(-grace).UnixMilli(), 10)

	orderIDs, err := l.client.ZRangeByScore(ctx, l.holdIndexKey(), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return result, fmt.Errorf("list holds: %w", err)
	}

	var errs []error
	for _, orderID := range orderIDs {
		mode := holdsRelease
		order, err := orders.GetOrder(ctx, orderID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrInvalidID):
		case err != nil:
			errs = append(errs, fmt.Errorf("read order %s: %w", orderID, err))
			continue
		case order.Status == domain.StatusCompleted, order.Status == domain.StatusPartialCompleted:
			mode = holdsSettle
		}

		n, err := l.clearHolds(ctx, orderID, cutoff, mode)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch {
		case n < 0:
			result.Skipped++
		case mode == holdsSettle:
			result.Settled++
		default:
			result.Released++
			l.logger.Warn("released holds of an uncommitted attempt",
				zap.String("order_id", orderID),
				zap.String("status", string(order.Status)),
				zap.Int("units", n),
			)
		}
	}
	return result, errors.Join(errs...)
}

// Run reconciles every interval until ctx is cancelled, starting at once.
func (l *Ledger) Run(ctx context.Context, orders OrderReader, interval, grace time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := l.Reconcile(ctx, orders, grace)
		if err != nil && ctx.Err() == nil {
			l.logger.Error("hold reconciliation failed", zap.Error(err))
		}
		if res.Settled+res.Released > 0 {
			l.logger.Info("holds reconciled",
				zap.Int("settled", res.Settled),
				zap.Int("released", res.Released),
				zap.Int("skipped", res.Skipped),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
