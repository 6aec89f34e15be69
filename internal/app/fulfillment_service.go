package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/allocation"
	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/outbox"
	"github.com/garvit124/AutoPO/internal/reservation"
)

// FulfillmentService drives an order from NEW to a terminal status. Every
// transition runs in one repository transaction: stock is reserved, the
// notification task is queued and the status is saved together.
type FulfillmentService struct {
	orders    OrderRepository
	inventory InventoryRepository
	tasks     TaskQueue
	reserver  *reservation.Coordinator
	clock     clock.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
}

type FulfillmentOption func(*FulfillmentService)

func WithLogger(logger *zap.Logger) FulfillmentOption {
	return func(s *FulfillmentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) FulfillmentOption {
	return func(s *FulfillmentService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func NewFulfillmentService(orders OrderRepository, inventory InventoryRepository, tasks TaskQueue, clk clock.Clock, opts ...FulfillmentOption) *FulfillmentService {
	svc := &FulfillmentService{
		orders:    orders,
		inventory: inventory,
		tasks:     tasks,
		clock:     clk,
		logger:    zap.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("fulfillment"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.reserver = reservation.NewCoordinator(inventory,
		reservation.WithLogger(svc.logger),
		reservation.WithTracer(svc.tracer),
	)
	return svc
}

type stage int

const (
	// stageInitial evaluates a NEW order against its full line items.
	stageInitial stage = iota
	// stageApproval evaluates the offered items after the buyer approved.
	stageApproval
)

// shortfallError aborts the transaction of an ALL_FULL evaluation whose
// reservation came up short, carrying what could be reserved.
type shortfallError struct {
	reserved []domain.Allocation
}

func (e *shortfallError) Error() string {
	return "stock moved during reservation"
}

// Process evaluates a NEW order.
func (s *FulfillmentService) Process(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.process", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.inTx(ctx, orderID, domain.StatusNew, func(txCtx context.Context, order domain.Order) (domain.Order, error) {
		return s.evaluateAndCommit(txCtx, order, order.Items, stageInitial)
	})

	var short *shortfallError
	if errors.As(err, &short) {
		s.logger.Warn("reservation shortfall, offering reservable quantities",
			zap.String("order_id", orderID),
			zap.Any("reservable", short.reserved),
		)
		order, err = s.inTx(ctx, orderID, domain.StatusNew, func(txCtx context.Context, order domain.Order) (domain.Order, error) {
			return s.offerReservable(txCtx, order, short.reserved)
		})
	}
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.status", string(order.Status)))
	return order, nil
}

// HandleReply applies the buyer's answer to a proposal. ref is an order id or a PO number.
func (s *FulfillmentService) HandleReply(ctx context.Context, ref string, decision domain.ReplyDecision) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.reply", trace.WithAttributes(
		attribute.String("order.ref", ref),
		attribute.String("reply.decision", string(decision)),
	))
	defer span.End()

	orderID, err := s.resolveOrderID(ctx, ref)
	if err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	switch decision {
	case domain.ReplyReject:
		order, err = s.inTx(ctx, orderID, domain.StatusWaitingForReply, func(txCtx context.Context, order domain.Order) (domain.Order, error) {
			return s.transition(txCtx, order, domain.StatusCancelledByCustomer, "", nil)
		})
	case domain.ReplyApprove:
		order, err = s.inTx(ctx, orderID, domain.StatusWaitingForReply, func(txCtx context.Context, order domain.Order) (domain.Order, error) {
			return s.evaluateAndCommit(txCtx, order, order.OfferedItems(), stageApproval)
		})
	default:
		return domain.Order{}, domain.ErrInvalidReplyDecision
	}
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	return order, nil
}

// GetOrder looks an order up by id or PO number. A PO number that happens
// to be UUID-shaped is tried as an id first.
func (s *FulfillmentService) GetOrder(ctx context.Context, ref string) (domain.Order, error) {
	if isUUID(ref) {
		order, err := s.orders.GetOrder(ctx, ref)
		if !errors.Is(err, domain.ErrOrderNotFound) && !errors.Is(err, domain.ErrInvalidID) {
			return order, err
		}
	}
	order, err := s.orders.FindOrderByPONumber(ctx, ref)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *order, nil
}

// Notifications returns the notices queued for an order, oldest first.
func (s *FulfillmentService) Notifications(ctx context.Context, ref string) ([]outbox.Task, error) {
	order, err := s.GetOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.tasks.ListByOrder(ctx, order.ID)
}

func (s *FulfillmentService) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	return s.orders.ListOrders(ctx, filter)
}

type StatusSummary struct {
	Counts map[domain.OrderStatus]int
	Total  int
}

// Summary counts orders per status. Every known status is present.
func (s *FulfillmentService) Summary(ctx context.Context) (StatusSummary, error) {
	counts, err := s.orders.CountOrdersByStatus(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	summary := StatusSummary{Counts: make(map[domain.OrderStatus]int, len(domain.AllStatuses))}
	for _, status := range domain.AllStatuses {
		summary.Counts[status] = counts[status]
		summary.Total += counts[status]
	}
	return summary, nil
}

func (s *FulfillmentService) resolveOrderID(ctx context.Context, ref string) (string, error) {
	order, err := s.GetOrder(ctx, ref)
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

func (s *FulfillmentService) inTx(ctx context.Context, orderID string, expected domain.OrderStatus, fn func(ctx context.Context, order domain.Order) (domain.Order, error)) (domain.Order, error) {
	var result domain.Order
	err := s.orders.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status != expected {
			return domain.ErrInvalidTransition
		}
		// The row lock makes this the only live attempt for the order; any
		// holds still recorded come from one that never committed.
		if recovery, ok := s.inventory.(ReservationRecovery); ok {
			if err := recovery.ReleaseHolds(txCtx, orderID); err != nil {
				return fmt.Errorf("release stale holds: %w", err)
			}
		}
		next, err := fn(reservation.WithOrderID(txCtx, orderID), order)
		if err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// evaluateAndCommit decides eligible against fresh stock and commits the
// resulting transition. It is shared by Process and an approved reply.
func (s *FulfillmentService) evaluateAndCommit(ctx context.Context, order domain.Order, eligible []domain.LineItem, st stage) (domain.Order, error) {
	ids := make([]string, 0, len(eligible))
	for _, item := range eligible {
		ids = append(ids, item.ProductID)
	}
	stock, err := s.inventory.ReadStock(ctx, ids)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read stock: %w", err)
	}

	decisions, class := allocation.Decide(eligible, stock)
	s.logger.Info("allocation decided",
		zap.String("order_id", order.ID),
		zap.String("po_number", order.PONumber),
		zap.String("classification", string(class)),
	)

	if class == allocation.AllNone {
		return s.fail(ctx, order)
	}
	if st == stageInitial && class == allocation.Mixed {
		order.Offered = allocation.Allocatable(decisions)
		return s.transition(ctx, order, domain.StatusWaitingForReply, outbox.KindProposal, order.Offered)
	}

	res, err := s.reserver.Reserve(ctx, allocation.Allocatable(decisions))
	if err != nil {
		return domain.Order{}, err
	}
	if st == stageInitial && res.HasShortfall() {
		return domain.Order{}, &shortfallError{reserved: res.Allocations()}
	}
	if res.Total() == 0 {
		return s.fail(ctx, order)
	}

	order.Reserved = res.Allocations()
	if st == stageApproval {
		return s.transition(ctx, order, domain.StatusPartialCompleted, outbox.KindPartialConfirmation, order.Reserved)
	}
	return s.transition(ctx, order, domain.StatusCompleted, outbox.KindInvoice, order.Reserved)
}

// offerReservable parks an order whose full reservation fell short, offering
// what could actually be reserved.
func (s *FulfillmentService) offerReservable(ctx context.Context, order domain.Order, reserved []domain.Allocation) (domain.Order, error) {
	decisions, class := allocation.FromReserved(order.Items, reserved)
	if class == allocation.AllNone {
		return s.fail(ctx, order)
	}
	order.Offered = allocation.Allocatable(decisions)
	return s.transition(ctx, order, domain.StatusWaitingForReply, outbox.KindProposal, order.Offered)
}

func (s *FulfillmentService) fail(ctx context.Context, order domain.Order) (domain.Order, error) {
	requested := make([]domain.Allocation, 0, len(order.Items))
	for _, item := range order.Items {
		requested = append(requested, domain.Allocation{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return s.transition(ctx, order, domain.StatusFailedNoStock, outbox.KindApology, requested)
}

// transition queues the notice, if any, and saves the new status.
func (s *FulfillmentService) transition(ctx context.Context, order domain.Order, next domain.OrderStatus, kind outbox.Kind, lines []domain.Allocation) (domain.Order, error) {
	if !order.Status.CanTransitionTo(next) {
		return domain.Order{}, domain.ErrInvalidTransition
	}
	now := s.clock.Now()

	if kind != "" {
		task, err := outbox.NewTask(newUUID(), order.ID, kind, noticeFor(order, lines), now)
		if err != nil {
			return domain.Order{}, err
		}
		if err := s.tasks.Enqueue(ctx, task); err != nil {
			return domain.Order{}, fmt.Errorf("enqueue %s notice: %w", kind, err)
		}
	}

	expected := order.Status
	order.Status = next
	order.UpdatedAt = now
	if err := s.orders.SaveOrder(ctx, order, expected); err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order transitioned",
		zap.String("order_id", order.ID),
		zap.String("po_number", order.PONumber),
		zap.String("from", string(expected)),
		zap.String("to", string(next)),
	)
	return order, nil
}

func noticeFor(order domain.Order, lines []domain.Allocation) outbox.Notice {
	notice := outbox.Notice{
		PONumber:     order.PONumber,
		Recipient:    order.BuyerEmail,
		BuyerName:    order.Buyer,
		BuyerAddress: order.BuyerAddress,
		Supplier:     order.Supplier,
		Lines:        make([]outbox.NoticeLine, 0, len(lines)),
	}
	for _, a := range lines {
		item, ok := order.Item(a.ProductID)
		if !ok {
			continue
		}
		notice.Lines = append(notice.Lines, outbox.NoticeLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    a.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return notice
}
