package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	allowed := map[OrderStatus][]OrderStatus{
		StatusNew:             {StatusCompleted, StatusFailedNoStock, StatusWaitingForReply},
		StatusWaitingForReply: {StatusPartialCompleted, StatusCancelledByCustomer, StatusFailedNoStock},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range AllStatuses {
		terminal := s != StatusNew && s != StatusWaitingForReply
		if s.IsTerminal() != terminal {
			t.Fatalf("%s: expected terminal=%v", s, terminal)
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	t.Parallel()

	if s, err := ParseOrderStatus("WAITING_FOR_REPLY"); err != nil || s != StatusWaitingForReply {
		t.Fatalf("expected WAITING_FOR_REPLY, got %q (%v)", s, err)
	}
	if _, err := ParseOrderStatus("SHIPPED"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestParseReplyDecision(t *testing.T) {
	t.Parallel()

	cases := map[string]ReplyDecision{
		"APPROVE":   ReplyApprove,
		" approve ": ReplyApprove,
		"Reject":    ReplyReject,
	}
	for raw, want := range cases {
		got, err := ParseReplyDecision(raw)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
		if got != want {
			t.Fatalf("%q: expected %s, got %s", raw, want, got)
		}
	}

	if _, err := ParseReplyDecision("maybe"); !errors.Is(err, ErrInvalidReplyDecision) {
		t.Fatalf("expected ErrInvalidReplyDecision, got %v", err)
	}
}

func TestOrder_OfferedItems(t *testing.T) {
	t.Parallel()

	order := Order{
		Items: []LineItem{
			{ProductID: "X", ProductName: "Widget", Quantity: 10},
			{ProductID: "Y", ProductName: "Gadget", Quantity: 5},
		},
		Offered: []Allocation{
			{ProductID: "X", Quantity: 4},
			{ProductID: "Y", Quantity: 0},
			{ProductID: "Z", Quantity: 3},
		},
	}

	got := order.OfferedItems()
	if len(got) != 1 {
		t.Fatalf("expected 1 offered item, got %d", len(got))
	}
	if got[0].ProductID != "X" || got[0].Quantity != 4 || got[0].ProductName != "Widget" {
		t.Fatalf("unexpected offered item %+v", got[0])
	}
}

func TestOrder_Total(t *testing.T) {
	t.Parallel()

	order := Order{Items: []LineItem{
		{ProductID: "X", Quantity: 3, UnitPrice: decimal.RequireFromString("1.10")},
		{ProductID: "Y", Quantity: 2, UnitPrice: decimal.RequireFromString("0.45")},
	}}

	if got := order.Total(); !got.Equal(decimal.RequireFromString("4.20")) {
		t.Fatalf("expected total 4.20, got %s", got)
	}
}
