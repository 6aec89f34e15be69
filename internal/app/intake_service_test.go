package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
)

func TestIntakeService_SubmitOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	validInput := func() SubmitOrderInput {
		return SubmitOrderInput{
			PONumber:   " PO-77 ",
			Buyer:      "Acme Retail",
			BuyerEmail: "buyer@acme.test",
			Supplier:   "Northwind",
			Items: []LineItemInput{
				{ProductID: "X", ProductName: "Widget", Quantity: 10, UnitPrice: decimal.RequireFromString("2.50")},
				{ProductID: "Y", Quantity: 1, UnitPrice: decimal.Zero},
			},
		}
	}

	t.Run("creates new order", func(t *testing.T) {
		store := newFakeStore(nil)
		svc := NewIntakeService(store, clock.NewFixed(now), nil)

		res, err := svc.SubmitOrder(ctx, validInput())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !res.Created {
			t.Fatalf("expected Created=true")
		}
		if res.Order.ID == "" || !isUUID(res.Order.ID) {
			t.Fatalf("expected uuid order id, got %q", res.Order.ID)
		}
		if res.Order.PONumber != "PO-77" {
			t.Fatalf("expected trimmed po number, got %q", res.Order.PONumber)
		}
		if res.Order.Status != domain.StatusNew {
			t.Fatalf("expected NEW, got %s", res.Order.Status)
		}
		if res.Order.Items[1].ProductName != "Y" {
			t.Fatalf("expected product name to default to id, got %q", res.Order.Items[1].ProductName)
		}
		if !res.Order.CreatedAt.Equal(now) {
			t.Fatalf("expected created_at %v, got %v", now, res.Order.CreatedAt)
		}
		if _, ok := store.orders[res.Order.ID]; !ok {
			t.Fatalf("expected order persisted")
		}
	})

	t.Run("same po number and items returns existing", func(t *testing.T) {
		store := newFakeStore(nil)
		svc := NewIntakeService(store, clock.NewFixed(now), nil)

		first, err := svc.SubmitOrder(ctx, validInput())
		if err != nil {
			t.Fatalf("first submit: %v", err)
		}
		second, err := svc.SubmitOrder(ctx, validInput())
		if err != nil {
			t.Fatalf("second submit: %v", err)
		}
		if second.Created {
			t.Fatalf("expected Created=false on resubmission")
		}
		if second.Order.ID != first.Order.ID {
			t.Fatalf("expected existing order %s, got %s", first.Order.ID, second.Order.ID)
		}
		if len(store.orders) != 1 {
			t.Fatalf("expected one stored order, got %d", len(store.orders))
		}
	})

	t.Run("same po number with different items conflicts", func(t *testing.T) {
		store := newFakeStore(nil)
		svc := NewIntakeService(store, clock.NewFixed(now), nil)

		if _, err := svc.SubmitOrder(ctx, validInput()); err != nil {
			t.Fatalf("first submit: %v", err)
		}
		in := validInput()
		in.Items[0].Quantity = 11
		if _, err := svc.SubmitOrder(ctx, in); !errors.Is(err, domain.ErrIdempotencyConflict) {
			t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*SubmitOrderInput)
			want   error
		}{
			{"missing po number", func(in *SubmitOrderInput) { in.PONumber = "  " }, domain.ErrPONumberRequired},
			{"no items", func(in *SubmitOrderInput) { in.Items = nil }, domain.ErrNoLineItems},
			{"missing product id", func(in *SubmitOrderInput) { in.Items[0].ProductID = "" }, domain.ErrProductIDRequired},
			{"zero quantity", func(in *SubmitOrderInput) { in.Items[0].Quantity = 0 }, domain.ErrInvalidQuantity},
			{"negative price", func(in *SubmitOrderInput) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) }, domain.ErrInvalidPrice},
			{"duplicate product", func(in *SubmitOrderInput) { in.Items[1].ProductID = "X" }, domain.ErrDuplicateLineItem},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				store := newFakeStore(nil)
				svc := NewIntakeService(store, clock.NewFixed(now), nil)
				in := validInput()
				tc.mutate(&in)

				if _, err := svc.SubmitOrder(ctx, in); !errors.Is(err, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, err)
				}
				if len(store.orders) != 0 {
					t.Fatalf("expected nothing persisted")
				}
			})
		}
	})

	t.Run("storage failure propagates", func(t *testing.T) {
		store := newFakeStore(nil)
		store.createErr = errors.New("disk full")
		svc := NewIntakeService(store, clock.NewFixed(now), nil)

		if _, err := svc.SubmitOrder(ctx, validInput()); err == nil {
			t.Fatalf("expected error")
		}
	})
}
