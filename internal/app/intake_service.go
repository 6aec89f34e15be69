package app

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
)

// IntakeService records incoming purchase orders as NEW. Submission is
// idempotent on the PO number.
type IntakeService struct {
	repo   OrderRepository
	clock  clock.Clock
	logger *zap.Logger
}

func NewIntakeService(repo OrderRepository, clk clock.Clock, logger *zap.Logger) *IntakeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeService{
		repo:   repo,
		clock:  clk,
		logger: logger,
	}
}

type LineItemInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type SubmitOrderInput struct {
	PONumber     string
	Buyer        string
	BuyerEmail   string
	BuyerAddress string
	Supplier     string
	Items        []LineItemInput
}

type SubmitOrderResult struct {
	Order   domain.Order
	Created bool
}

func (s *IntakeService) SubmitOrder(ctx context.Context, in SubmitOrderInput) (SubmitOrderResult, error) {
	items, err := validateSubmission(in)
	if err != nil {
		return SubmitOrderResult{}, err
	}
	poNumber := strings.TrimSpace(in.PONumber)

	if existing, err := s.repo.FindOrderByPONumber(ctx, poNumber); err != nil {
		return SubmitOrderResult{}, err
	} else if existing != nil {
		return resubmitted(*existing, items)
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:           newUUID(),
		PONumber:     poNumber,
		Buyer:        strings.TrimSpace(in.Buyer),
		BuyerEmail:   strings.TrimSpace(in.BuyerEmail),
		BuyerAddress: strings.TrimSpace(in.BuyerAddress),
		Supplier:     strings.TrimSpace(in.Supplier),
		Items:        items,
		Status:       domain.StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		// A concurrent submission of the same PO number won the insert.
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			existing, findErr := s.repo.FindOrderByPONumber(ctx, poNumber)
			if findErr != nil {
				return SubmitOrderResult{}, findErr
			}
			if existing != nil {
				return resubmitted(*existing, items)
			}
		}
		return SubmitOrderResult{}, err
	}

	s.logger.Info("order received",
		zap.String("order_id", order.ID),
		zap.String("po_number", order.PONumber),
		zap.Int("line_items", len(order.Items)),
	)
	return SubmitOrderResult{Order: order, Created: true}, nil
}

func resubmitted(existing domain.Order, items []domain.LineItem) (SubmitOrderResult, error) {
	if !sameItems(existing.Items, items) {
		return SubmitOrderResult{}, domain.ErrIdempotencyConflict
	}
	return SubmitOrderResult{Order: existing, Created: false}, nil
}

func validateSubmission(in SubmitOrderInput) ([]domain.LineItem, error) {
	if strings.TrimSpace(in.PONumber) == "" {
		return nil, domain.ErrPONumberRequired
	}
	if len(in.Items) == 0 {
		return nil, domain.ErrNoLineItems
	}

	seen := make(map[string]struct{}, len(in.Items))
	items := make([]domain.LineItem, 0, len(in.Items))
	for _, raw := range in.Items {
		id := strings.TrimSpace(raw.ProductID)
		if id == "" {
			return nil, domain.ErrProductIDRequired
		}
		if raw.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if raw.UnitPrice.IsNegative() {
			return nil, domain.ErrInvalidPrice
		}
		if _, dup := seen[id]; dup {
			return nil, domain.ErrDuplicateLineItem
		}
		seen[id] = struct{}{}

		name := strings.TrimSpace(raw.ProductName)
		if name == "" {
			name = id
		}
		items = append(items, domain.LineItem{
			ProductID:   id,
			ProductName: name,
			Quantity:    raw.Quantity,
			UnitPrice:   raw.UnitPrice,
		})
	}
	return items, nil
}

func sameItems(a, b []domain.LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]domain.LineItem, len(a))
	for _, item := range a {
		byID[item.ProductID] = item
	}
	for _, item := range b {
		other, ok := byID[item.ProductID]
		if !ok || other.Quantity != item.Quantity || !other.UnitPrice.Equal(item.UnitPrice) {
			return false
		}
	}
	return true
}
