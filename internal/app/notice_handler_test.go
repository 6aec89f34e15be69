package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/outbox"
)

type fakeDocuments struct {
	calls  int
	header DocumentHeader
	lines  []DocumentLine
	err    error
}

func (f *fakeDocuments) Generate(_ context.Context, orderID string, header DocumentHeader, lines []DocumentLine) (DocumentRef, error) {
	f.calls++
	f.header = header
	f.lines = lines
	if f.err != nil {
		return DocumentRef{}, f.err
	}
	return DocumentRef{ID: header.Reference, Location: "invoices/" + orderID + ".txt"}, nil
}

type fakeComposer struct {
	prompt string
	text   string
	err    error
}

func (f *fakeComposer) Compose(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

type fakeNotifier struct {
	sent []Message
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func noticeTask(t *testing.T, kind outbox.Kind, recipient string) outbox.Task {
	t.Helper()
	task, err := outbox.NewTask("task-1", testOrderID, kind, outbox.Notice{
		PONumber:  "PO-9",
		Recipient: recipient,
		BuyerName: "Acme Retail",
		Lines: []outbox.NoticeLine{
			{ProductID: "X", ProductName: "Widget", Quantity: 4, UnitPrice: decimal.NewFromInt(3)},
		},
	}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestNoticeHandler_Handle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	t.Run("invoice generates document and signs body", func(t *testing.T) {
		docs := &fakeDocuments{}
		composer := &fakeComposer{text: "  Here is your invoice.  "}
		notifier := &fakeNotifier{}
		h := NewNoticeHandler(docs, composer, notifier, clk, WithSignature("-- Team"))

		if err := h.Handle(ctx, noticeTask(t, outbox.KindInvoice, "buyer@acme.test")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if docs.calls != 1 || len(docs.lines) != 1 || docs.lines[0].Quantity != 4 {
			t.Fatalf("expected one document with the notice lines, got %d calls %+v", docs.calls, docs.lines)
		}
		if len(notifier.sent) != 1 {
			t.Fatalf("expected one message, got %d", len(notifier.sent))
		}
		msg := notifier.sent[0]
		if msg.Subject != "Invoice for PO PO-9" {
			t.Fatalf("unexpected subject %q", msg.Subject)
		}
		if msg.Body != "Here is your invoice.\n\n-- Team" {
			t.Fatalf("unexpected body %q", msg.Body)
		}
		if msg.Document == nil || msg.Document.ID != "task-1" {
			t.Fatalf("expected document reference, got %+v", msg.Document)
		}
		if !strings.Contains(composer.prompt, "Do NOT include any signature") {
			t.Fatalf("expected prompt to forbid signatures, got %q", composer.prompt)
		}
	})

	t.Run("proposal lists items and carries no document", func(t *testing.T) {
		docs := &fakeDocuments{}
		composer := &fakeComposer{text: "ok"}
		notifier := &fakeNotifier{}
		h := NewNoticeHandler(docs, composer, notifier, clk)

		if err := h.Handle(ctx, noticeTask(t, outbox.KindProposal, "buyer@acme.test")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if docs.calls != 0 {
			t.Fatalf("expected no document for proposal")
		}
		if !strings.Contains(composer.prompt, "- Widget: 4 units") {
			t.Fatalf("expected item list in prompt, got %q", composer.prompt)
		}
		if notifier.sent[0].Subject != "Update: Partial Stock for PO PO-9" || notifier.sent[0].Document != nil {
			t.Fatalf("unexpected message %+v", notifier.sent[0])
		}
	})

	t.Run("composer failure falls back", func(t *testing.T) {
		notifier := &fakeNotifier{}
		h := NewNoticeHandler(&fakeDocuments{}, &fakeComposer{err: errors.New("timeout")}, notifier, clk, WithSignature("sig"))

		if err := h.Handle(ctx, noticeTask(t, outbox.KindPartialConfirmation, "buyer@acme.test")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if notifier.sent[0].Body != "Please find the attached invoice.\n\nsig" {
			t.Fatalf("unexpected fallback body %q", notifier.sent[0].Body)
		}
		if notifier.sent[0].Subject != "Confirmed: Partial Shipment for PO PO-9" {
			t.Fatalf("unexpected subject %q", notifier.sent[0].Subject)
		}
	})

	t.Run("empty composition falls back", func(t *testing.T) {
		notifier := &fakeNotifier{}
		h := NewNoticeHandler(&fakeDocuments{}, &fakeComposer{text: "   "}, notifier, clk)

		if err := h.Handle(ctx, noticeTask(t, outbox.KindApology, "buyer@acme.test")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(notifier.sent[0].Body, "out of stock") {
			t.Fatalf("expected apology fallback, got %q", notifier.sent[0].Body)
		}
	})

	t.Run("missing recipient is permanent", func(t *testing.T) {
		notifier := &fakeNotifier{}
		h := NewNoticeHandler(&fakeDocuments{}, nil, notifier, clk)

		err := h.Handle(ctx, noticeTask(t, outbox.KindInvoice, " "))
		var permanent *backoff.PermanentError
		if !errors.As(err, &permanent) {
			t.Fatalf("expected permanent error, got %v", err)
		}
		if !errors.Is(err, domain.ErrMissingRecipient) {
			t.Fatalf("expected ErrMissingRecipient, got %v", err)
		}
		if len(notifier.sent) != 0 {
			t.Fatalf("expected nothing sent")
		}
	})

	t.Run("notifier failure is retryable", func(t *testing.T) {
		h := NewNoticeHandler(&fakeDocuments{}, nil, &fakeNotifier{err: errors.New("smtp down")}, clk)

		err := h.Handle(ctx, noticeTask(t, outbox.KindApology, "buyer@acme.test"))
		if err == nil {
			t.Fatalf("expected error")
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			t.Fatalf("expected retryable error, got permanent %v", err)
		}
	})
}
