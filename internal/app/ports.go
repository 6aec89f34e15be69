package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/outbox"
)

type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindOrderByPONumber(ctx context.Context, poNumber string) (*domain.Order, error)
	// SaveOrder persists status, offers and reservations only if the stored
	// status still equals expected; otherwise it returns ErrConcurrentUpdate.
	SaveOrder(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error)
}

type OrderFilter struct {
	Status *domain.OrderStatus
	Limit  int
}

// InventoryRepository is the stock ledger. Reserve is one atomic conditional
// decrement of min(qty, available).
type InventoryRepository interface {
	ReadStock(ctx context.Context, productIDs []string) (map[string]int, error)
	Reserve(ctx context.Context, productID string, qty int) (reserved int, shortfall bool, err error)
}

// ReservationRecovery is implemented by stock ledgers that live outside the
// order database. ReleaseHolds gives back whatever an earlier attempt for the
// order reserved without committing its status change.
type ReservationRecovery interface {
	ReleaseHolds(ctx context.Context, orderID string) error
}

type InventoryAdminRepository interface {
	UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	Restock(ctx context.Context, productID string, delta int) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task outbox.Task) error
	ListByOrder(ctx context.Context, orderID string) ([]outbox.Task, error)
}

type DocumentHeader struct {
	Reference    string
	PONumber     string
	BuyerName    string
	BuyerAddress string
	Supplier     string
	IssuedAt     time.Time
}

type DocumentLine struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// DocumentRef points at a generated invoice.
type DocumentRef struct {
	ID       string
	Location string
}

type DocumentGenerator interface {
	Generate(ctx context.Context, orderID string, header DocumentHeader, lines []DocumentLine) (DocumentRef, error)
}

type Message struct {
	Recipient string
	Subject   string
	Body      string
	Document  *DocumentRef
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type TextComposer interface {
	Compose(ctx context.Context, prompt string) (string, error)
}
