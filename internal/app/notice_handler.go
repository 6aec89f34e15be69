package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/outbox"
)

const (
	defaultSignature = "Best regards,\nAutoPO Fulfillment Team"
	invoiceFallback  = "Please find the attached invoice."
	noSignatureNote  = "IMPORTANT: Do NOT include any signature or closing like 'Best regards', '[Your Name]', etc. Just write the body of the email. I will add the signature automatically."
)

// NoticeHandler turns a queued notice into a delivered message: it generates
// the invoice when the notice carries one, composes the body and sends it.
type NoticeHandler struct {
	documents DocumentGenerator
	composer  TextComposer
	notifier  Notifier
	clock     clock.Clock
	logger    *zap.Logger
	signature string
}

type NoticeHandlerOption func(*NoticeHandler)

func WithSignature(signature string) NoticeHandlerOption {
	return func(h *NoticeHandler) {
		if strings.TrimSpace(signature) != "" {
			h.signature = signature
		}
	}
}

func WithNoticeLogger(logger *zap.Logger) NoticeHandlerOption {
	return func(h *NoticeHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewNoticeHandler(documents DocumentGenerator, composer TextComposer, notifier Notifier, clk clock.Clock, opts ...NoticeHandlerOption) *NoticeHandler {
	h := &NoticeHandler{
		documents: documents,
		composer:  composer,
		notifier:  notifier,
		clock:     clk,
		logger:    zap.NewNop(),
		signature: defaultSignature,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ outbox.Handler = (*NoticeHandler)(nil)

func (h *NoticeHandler) Handle(ctx context.Context, task outbox.Task) error {
	notice, err := task.Notice()
	if err != nil {
		return backoff.Permanent(err)
	}
	if strings.TrimSpace(notice.Recipient) == "" {
		return backoff.Permanent(fmt.Errorf("po %s: %w", notice.PONumber, domain.ErrMissingRecipient))
	}

	var doc *DocumentRef
	if task.Kind.RequiresDocument() {
		ref, err := h.documents.Generate(ctx, task.OrderID, DocumentHeader{
			Reference:    task.ID,
			PONumber:     notice.PONumber,
			BuyerName:    notice.BuyerName,
			BuyerAddress: notice.BuyerAddress,
			Supplier:     notice.Supplier,
			IssuedAt:     h.clock.Now(),
		}, documentLines(notice))
		if err != nil {
			return fmt.Errorf("generate invoice for po %s: %w", notice.PONumber, err)
		}
		doc = &ref
	}

	msg := Message{
		Recipient: notice.Recipient,
		Subject:   subjectFor(task.Kind, notice.PONumber),
		Body:      h.body(ctx, task.Kind, notice) + "\n\n" + h.signature,
		Document:  doc,
	}
	if err := h.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s notice for po %s: %w", task.Kind, notice.PONumber, err)
	}
	return nil
}

func (h *NoticeHandler) body(ctx context.Context, kind outbox.Kind, notice outbox.Notice) string {
	if h.composer != nil {
		text, err := h.composer.Compose(ctx, promptFor(kind, notice)+"\n\n"+noSignatureNote)
		text = strings.TrimSpace(text)
		if err == nil && text != "" {
			return text
		}
		h.logger.Warn("composer unavailable, using fallback body",
			zap.String("po_number", notice.PONumber),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	return fallbackFor(kind, notice)
}

func subjectFor(kind outbox.Kind, poNumber string) string {
	switch kind {
	case outbox.KindInvoice:
		return "Invoice for PO " + poNumber
	case outbox.KindApology:
		return "Update on PO " + poNumber
	case outbox.KindProposal:
		return "Update: Partial Stock for PO " + poNumber
	case outbox.KindPartialConfirmation:
		return "Confirmed: Partial Shipment for PO " + poNumber
	default:
		return "PO " + poNumber
	}
}

func promptFor(kind outbox.Kind, n outbox.Notice) string {
	switch kind {
	case outbox.KindInvoice:
		return fmt.Sprintf("Write a professional email to %s attaching invoice for PO %s.", n.BuyerName, n.PONumber)
	case outbox.KindApology:
		return fmt.Sprintf("Write a polite apology email to %s for PO %s stating items are out of stock.", n.BuyerName, n.PONumber)
	case outbox.KindPartialConfirmation:
		return fmt.Sprintf("Write a thank you email to %s confirming partial shipment for PO %s.", n.BuyerName, n.PONumber)
	default:
		return fmt.Sprintf(`Dear %s,

Write a professional email regarding Purchase Order %s.
Inform them that we currently have partial stock available for their order.

Available Items:
%s

Ask them if they would like us to proceed with shipping these available items now.
Mention that we will generate the invoice and ship immediately upon their confirmation.`,
			n.BuyerName, n.PONumber, itemList(n))
	}
}

func fallbackFor(kind outbox.Kind, n outbox.Notice) string {
	switch kind {
	case outbox.KindApology:
		return fmt.Sprintf("Dear %s,\n\nWe are sorry to let you know that the items on PO %s are currently out of stock.", n.BuyerName, n.PONumber)
	case outbox.KindProposal:
		return fmt.Sprintf("Dear %s,\n\nWe currently have partial stock available for PO %s:\n%s\n\nPlease reply APPROVE to ship these items now or REJECT to cancel the order.",
			n.BuyerName, n.PONumber, itemList(n))
	default:
		return invoiceFallback
	}
}

func itemList(n outbox.Notice) string {
	lines := make([]string, 0, len(n.Lines))
	for _, l := range n.Lines {
		lines = append(lines, fmt.Sprintf("- %s: %d units", l.ProductName, l.Quantity))
	}
	return strings.Join(lines, "\n")
}

func documentLines(n outbox.Notice) []DocumentLine {
	out := make([]DocumentLine, 0, len(n.Lines))
	for _, l := range n.Lines {
		out = append(out, DocumentLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return out
}
