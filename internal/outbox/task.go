// Package outbox holds side-effect tasks written in the same transaction as an
// order status change and delivers them at least once.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindInvoice             Kind = "invoice"
	KindApology             Kind = "apology"
	KindProposal            Kind = "proposal"
	KindPartialConfirmation Kind = "partial_confirmation"
)

// RequiresDocument reports whether the notice carries an invoice document.
func (k Kind) RequiresDocument() bool {
	return k == KindInvoice || k == KindPartialConfirmation
}

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is one queued notification for an order.
type Task struct {
	ID            string
	OrderID       string
	Kind          Kind
	Payload       []byte
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Notice is the task payload: everything needed to build the message without
// re-reading the order.
type Notice struct {
	PONumber     string       `json:"po_number"`
	Recipient    string       `json:"recipient"`
	BuyerName    string       `json:"buyer_name"`
	BuyerAddress string       `json:"buyer_address"`
	Supplier     string       `json:"supplier"`
	Lines        []NoticeLine `json:"lines"`
}

type NoticeLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// NewTask builds a pending task due immediately.
func NewTask(id, orderID string, kind Kind, notice Notice, now time.Time) (Task, error) {
	payload, err := json.Marshal(notice)
	if err != nil {
		return Task{}, fmt.Errorf("encode notice: %w", err)
	}
	return Task{
		ID:            id,
		OrderID:       orderID,
		Kind:          kind,
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Notice decodes the task payload.
func (t Task) Notice() (Notice, error) {
	var n Notice
	if err := json.Unmarshal(t.Payload, &n); err != nil {
		return Notice{}, fmt.Errorf("decode notice for task %s: %w", t.ID, err)
	}
	return n, nil
}
