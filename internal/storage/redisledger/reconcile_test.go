package redisledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/reservation"
	"github.com/garvit124/AutoPO/internal/storage/sqlite"
	"github.com/garvit124/AutoPO/internal/storage/txctx"
)

var ledgerStart = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

const holdGrace = 2 * time.Minute

type orderStatuses map[string]domain.OrderStatus

func (o orderStatuses) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	status, ok := o[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return domain.Order{ID: orderID, Status: status}, nil
}

func newClockedLedger(t *testing.T, stock map[string]int) (*Ledger, *clock.Manual, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewManual(ledgerStart)
	ledger := New(client, WithClock(clk))
	for id, qty := range stock {
		_, err := ledger.UpsertProduct(context.Background(), domain.Product{ID: id, Name: "Product " + id, Available: qty})
		require.NoError(t, err)
	}
	return ledger, clk, mr
}

func unitsOf(t *testing.T, ledger *Ledger, id string) (available, sold int) {
	t.Helper()
	p, err := ledger.product(context.Background(), id)
	require.NoError(t, err)
	return p.Available, p.UnitsSold
}

func TestLedger_ReserveForOrderRecordsHold(t *testing.T) {
	t.Parallel()
	ledger, _, mr := newClockedLedger(t, map[string]int{"X": 5, "Y": 2})

	txCtx, hooks := txctx.Begin(reservation.WithOrderID(context.Background(), "order-1"))
	_, _, err := ledger.Reserve(txCtx, "X", 4)
	require.NoError(t, err)
	_, _, err = ledger.Reserve(txCtx, "Y", 5)
	require.NoError(t, err)

	assert.Equal(t, "4", mr.HGet("autopo:holds:order-1", "X"))
	assert.Equal(t, "2", mr.HGet("autopo:holds:order-1", "Y"))
	members, err := mr.ZMembers("autopo:holds")
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, members)

	require.NoError(t, hooks.Rollback(context.Background()))

	assert.False(t, mr.Exists("autopo:holds:order-1"))
	members, _ = mr.ZMembers("autopo:holds")
	assert.Empty(t, members)
	available, sold := unitsOf(t, ledger, "X")
	assert.Equal(t, 5, available)
	assert.Zero(t, sold)
}

func TestLedger_Reconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("attempt that never committed is released after grace", func(t *testing.T) {
		ledger, clk, mr := newClockedLedger(t, map[string]int{"X": 10})
		orders := orderStatuses{"order-1": domain.StatusNew}

		// Reserved inside a transaction whose process died before commit.
		txCtx, _ := txctx.Begin(reservation.WithOrderID(ctx, "order-1"))
		_, _, err := ledger.Reserve(txCtx, "X", 10)
		require.NoError(t, err)

		res, err := ledger.Reconcile(ctx, orders, holdGrace)
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{}, res, "fresh holds belong to a live attempt")

		clk.Advance(holdGrace + time.Second)
		res, err = ledger.Reconcile(ctx, orders, holdGrace)
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Released: 1}, res)

		available, sold := unitsOf(t, ledger, "X")
		assert.Equal(t, 10, available)
		assert.Zero(t, sold)
		assert.False(t, mr.Exists("autopo:holds:order-1"))
	})

	t.Run("committed order keeps its units", func(t *testing.T) {
		ledger, clk, mr := newClockedLedger(t, map[string]int{"X": 10})
		orders := orderStatuses{"order-1": domain.StatusCompleted}

		txCtx, _ := txctx.Begin(reservation.WithOrderID(ctx, "order-1"))
		_, _, err := ledger.Reserve(txCtx, "X", 6)
		require.NoError(t, err)

		clk.Advance(holdGrace + time.Second)
		res, err := ledger.Reconcile(ctx, orders, holdGrace)
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Settled: 1}, res)

		available, sold := unitsOf(t, ledger, "X")
		assert.Equal(t, 4, available)
		assert.Equal(t, 6, sold)
		assert.False(t, mr.Exists("autopo:holds:order-1"))
	})

	t.Run("unknown order is released", func(t *testing.T) {
		ledger, clk, _ := newClockedLedger(t, map[string]int{"X": 3})

		_, _, err := ledger.Reserve(reservation.WithOrderID(ctx, "gone"), "X", 3)
		require.NoError(t, err)

		clk.Advance(holdGrace)
		res, err := ledger.Reconcile(ctx, orderStatuses{}, holdGrace)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Released)
		available, _ := unitsOf(t, ledger, "X")
		assert.Equal(t, 3, available)
	})
}

func TestLedger_ReleaseHoldsBeforeRetryDeductsOnce(t *testing.T) {
	t.Parallel()
	ctx := reservation.WithOrderID(context.Background(), "order-1")
	ledger, _, _ := newClockedLedger(t, map[string]int{"X": 10})

	_, _, err := ledger.Reserve(ctx, "X", 7)
	require.NoError(t, err)

	require.NoError(t, ledger.ReleaseHolds(ctx, "order-1"))
	_, _, err = ledger.Reserve(ctx, "X", 7)
	require.NoError(t, err)

	available, sold := unitsOf(t, ledger, "X")
	assert.Equal(t, 3, available)
	assert.Equal(t, 7, sold)
}

func TestLedger_ProcessAfterCrashedAttemptDeductsOnce(t *testing.T) {
	ctx := context.Background()
	ledger, clk, _ := newClockedLedger(t, map[string]int{"X": 10})

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "autopo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	order := domain.Order{
		ID:         uuid.NewString(),
		PONumber:   "PO-9",
		Buyer:      "Acme Retail",
		BuyerEmail: "buyer@acme.test",
		Items: []domain.LineItem{
			{ProductID: "X", ProductName: "Widget", Quantity: 10, UnitPrice: decimal.NewFromInt(1)},
		},
		Status:    domain.StatusNew,
		CreatedAt: ledgerStart,
		UpdatedAt: ledgerStart,
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	// An earlier attempt reserved everything and died before its commit.
	_, _, err = ledger.Reserve(reservation.WithOrderID(ctx, order.ID), "X", 10)
	require.NoError(t, err)

	fulfillment := app.NewFulfillmentService(store, ledger, store, clk)
	done, err := fulfillment.Process(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	available, sold := unitsOf(t, ledger, "X")
	assert.Equal(t, 0, available)
	assert.Equal(t, 10, sold)

	clk.Advance(holdGrace + time.Second)
	res, err := ledger.Reconcile(ctx, store, holdGrace)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Settled: 1}, res)

	available, sold = unitsOf(t, ledger, "X")
	assert.Equal(t, 0, available)
	assert.Equal(t, 10, sold)
}
