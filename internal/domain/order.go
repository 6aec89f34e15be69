package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a purchase order and its fulfillment lifecycle.
type Order struct {
	ID           string
	PONumber     string
	Buyer        string
	BuyerEmail   string
	BuyerAddress string
	Supplier     string
	Items        []LineItem
	Status       OrderStatus
	// Offered is what the buyer was asked to confirm while WAITING_FOR_REPLY.
	Offered []Allocation
	// Reserved is what was deducted from stock when the order completed.
	Reserved  []Allocation
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one requested product. Immutable once the order is created.
type LineItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Allocation is a quantity of one product, offered or reserved.
type Allocation struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ProductIDs returns the product ids of the order's line items in line order.
func (o Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Item returns the line item for productID.
func (o Order) Item(productID string) (LineItem, bool) {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return LineItem{}, false
}

// OfferedItems returns the offered allocations as line items, capped at the
// offered quantity. Offers for products that are not on the order are dropped.
func (o Order) OfferedItems() []LineItem {
	items := make([]LineItem, 0, len(o.Offered))
	for _, offer := range o.Offered {
		item, ok := o.Item(offer.ProductID)
		if !ok || offer.Quantity <= 0 {
			continue
		}
		if offer.Quantity < item.Quantity {
			item.Quantity = offer.Quantity
		}
		items = append(items, item)
	}
	return items
}

// Total returns the sum of quantity * unit price over the line items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}
