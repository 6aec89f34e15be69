// Package reservation applies allocation decisions to the shared stock ledger.
package reservation

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/domain"
)

// Ledger performs one atomic conditional decrement. It reserves
// min(qty, available) and reports shortfall when that is less than qty.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) (reserved int, shortfall bool, err error)
}

type orderKey struct{}

// WithOrderID tags reservations made with ctx as belonging to orderID, so a
// ledger outside the order database can record what it holds for the order.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderKey{}, orderID)
}

// OrderID returns the order ctx reserves for, or "".
func OrderID(ctx context.Context) string {
	id, _ := ctx.Value(orderKey{}).(string)
	return id
}

// Reserved is the outcome for one product.
type Reserved struct {
	ProductID string
	Requested int
	Reserved  int
}

// Short reports whether less than requested was reserved.
func (r Reserved) Short() bool {
	return r.Reserved < r.Requested
}

// ShortfallSet holds the products that could not be reserved in full, keyed by product id.
type ShortfallSet map[string]Reserved

// Result is what a reservation pass achieved.
type Result struct {
	Items      []Reserved
	Shortfalls ShortfallSet
}

func (r Result) HasShortfall() bool {
	return len(r.Shortfalls) > 0
}

// Allocations returns the non-zero reserved quantities.
func (r Result) Allocations() []domain.Allocation {
	out := make([]domain.Allocation, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Reserved > 0 {
			out = append(out, domain.Allocation{ProductID: item.ProductID, Quantity: item.Reserved})
		}
	}
	return out
}

// Total returns the number of units reserved across all products.
func (r Result) Total() int {
	total := 0
	for _, item := range r.Items {
		total += item.Reserved
	}
	return total
}

type Coordinator struct {
	ledger Ledger
	logger *zap.Logger
	tracer trace.Tracer
}

type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func NewCoordinator(ledger Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger: ledger,
		logger: zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer("reservation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reserve decrements stock for every allocation, one product at a time in
// ascending product id order. Shortfalls are reported in the result, not as
// errors. On a ledger error the partial result is returned alongside it; undoing
// those decrements is the enclosing transaction's job.
func (c *Coordinator) Reserve(ctx context.Context, allocations []domain.Allocation) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "reservation.reserve")
	defer span.End()

	merged := merge(allocations)
	result := Result{
		Items:      make([]Reserved, 0, len(merged)),
		Shortfalls: ShortfallSet{},
	}

	for _, a := range merged {
		reserved, shortfall, err := c.ledger.Reserve(ctx, a.ProductID, a.Quantity)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("reserve %s: %w", a.ProductID, err)
		}
		if reserved < 0 || reserved > a.Quantity {
			return result, fmt.Errorf("reserve %s: ledger reserved %d of %d", a.ProductID, reserved, a.Quantity)
		}

		item := Reserved{ProductID: a.ProductID, Requested: a.Quantity, Reserved: reserved}
		result.Items = append(result.Items, item)
		if shortfall || item.Short() {
			result.Shortfalls[a.ProductID] = item
			c.logger.Info("reservation shortfall",
				zap.String("product_id", a.ProductID),
				zap.Int("requested", a.Quantity),
				zap.Int("reserved", reserved),
			)
		}
	}

	span.SetAttributes(
		attribute.Int("reservation.products", len(result.Items)),
		attribute.Int("reservation.units", result.Total()),
		attribute.Int("reservation.shortfalls", len(result.Shortfalls)),
	)
	return result, nil
}

func merge(allocations []domain.Allocation) []domain.Allocation {
	totals := make(map[string]int, len(allocations))
	for _, a := range allocations {
		if a.Quantity <= 0 {
			continue
		}
		totals[a.ProductID] += a.Quantity
	}

	out := make([]domain.Allocation, 0, len(totals))
	for id, qty := range totals {
		out = append(out, domain.Allocation{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
