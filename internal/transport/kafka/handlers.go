package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/domain"
)

type Fulfillment interface {
	Process(ctx context.Context, orderID string) (domain.Order, error)
	HandleReply(ctx context.Context, ref string, decision domain.ReplyDecision) (domain.Order, error)
}

type Intake interface {
	SubmitOrder(ctx context.Context, in app.SubmitOrderInput) (app.SubmitOrderResult, error)
}

type orderMessage struct {
	OrderID      string          `json:"order_id"`
	PONumber     string          `json:"po_number"`
	Buyer        string          `json:"buyer"`
	BuyerEmail   string          `json:"buyer_email"`
	BuyerAddress string          `json:"buyer_address"`
	Supplier     string          `json:"supplier"`
	Items        []orderItemJSON `json:"items"`
}

type orderItemJSON struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// OrderHandler processes orders named on the orders topic. A message carrying
// a full purchase order is submitted first.
type OrderHandler struct {
	intake      Intake
	fulfillment Fulfillment
	logger      *zap.Logger
}

func NewOrderHandler(intake Intake, fulfillment Fulfillment, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{intake: intake, fulfillment: fulfillment, logger: logger}
}

func (h *OrderHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var in orderMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		h.logger.Warn("skipping malformed order message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		if strings.TrimSpace(in.PONumber) == "" {
			h.logger.Warn("skipping order message without order_id or po_number", zap.Int64("offset", msg.Offset))
			return nil
		}
		res, err := h.intake.SubmitOrder(ctx, submission(in))
		if err != nil {
			if isRejected(err) {
				h.logger.Warn("rejected purchase order", zap.String("po_number", in.PONumber), zap.Error(err))
				return nil
			}
			return fmt.Errorf("submit order %s: %w", in.PONumber, err)
		}
		if res.Order.Status != domain.StatusNew {
			h.logger.Info("purchase order already processed",
				zap.String("po_number", in.PONumber),
				zap.String("status", string(res.Order.Status)),
			)
			return nil
		}
		orderID = res.Order.ID
	}

	order, err := h.fulfillment.Process(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			h.logger.Info("order already processed", zap.String("order_id", orderID))
			return nil
		}
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.logger.Warn("order not found", zap.String("order_id", orderID))
			return nil
		}
		return fmt.Errorf("process order %s: %w", orderID, err)
	}
	h.logger.Info("order processed", zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
	return nil
}

func submission(in orderMessage) app.SubmitOrderInput {
	items := make([]app.LineItemInput, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, app.LineItemInput(item))
	}
	return app.SubmitOrderInput{
		PONumber:     in.PONumber,
		Buyer:        in.Buyer,
		BuyerEmail:   in.BuyerEmail,
		BuyerAddress: in.BuyerAddress,
		Supplier:     in.Supplier,
		Items:        items,
	}
}

func isRejected(err error) bool {
	for _, target := range []error{
		domain.ErrPONumberRequired,
		domain.ErrNoLineItems,
		domain.ErrProductIDRequired,
		domain.ErrInvalidQuantity,
		domain.ErrInvalidPrice,
		domain.ErrDuplicateLineItem,
		domain.ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type replyMessage struct {
	OrderID  string `json:"order_id"`
	PONumber string `json:"po_number"`
	Decision string `json:"decision"`
}

// ReplyHandler applies buyer decisions from the replies topic.
type ReplyHandler struct {
	fulfillment Fulfillment
	logger      *zap.Logger
}

func NewReplyHandler(fulfillment Fulfillment, logger *zap.Logger) *ReplyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyHandler{fulfillment: fulfillment, logger: logger}
}

func (h *ReplyHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var in replyMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		h.logger.Warn("skipping malformed reply message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	ref := strings.TrimSpace(in.OrderID)
	if ref == "" {
		ref = strings.TrimSpace(in.PONumber)
	}
	decision, err := domain.ParseReplyDecision(in.Decision)
	if ref == "" || err != nil {
		h.logger.Warn("skipping invalid reply", zap.String("ref", ref), zap.String("decision", in.Decision))
		return nil
	}

	order, err := h.fulfillment.HandleReply(ctx, ref, decision)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		h.logger.Info("reply for an order that is not waiting; already resolved", zap.String("ref", ref))
		return nil
	case errors.Is(err, domain.ErrOrderNotFound):
		h.logger.Warn("reply for unknown order", zap.String("ref", ref))
		return nil
	case err != nil:
		return fmt.Errorf("handle reply for %s: %w", ref, err)
	}
	h.logger.Info("reply applied",
		zap.String("order_id", order.ID),
		zap.String("decision", string(decision)),
		zap.String("status", string(order.Status)),
	)
	return nil
}
