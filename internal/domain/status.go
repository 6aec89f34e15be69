package domain

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	StatusNew                 OrderStatus = "NEW"
	StatusWaitingForReply     OrderStatus = "WAITING_FOR_REPLY"
	StatusCompleted           OrderStatus = "COMPLETED"
	StatusPartialCompleted    OrderStatus = "PARTIAL_COMPLETED"
	StatusFailedNoStock       OrderStatus = "FAILED_NO_STOCK"
	StatusCancelledByCustomer OrderStatus = "CANCELLED_BY_CUSTOMER"
)

// AllStatuses lists every lifecycle status in display order.
var AllStatuses = []OrderStatus{
	StatusNew,
	StatusWaitingForReply,
	StatusCompleted,
	StatusPartialCompleted,
	StatusFailedNoStock,
	StatusCancelledByCustomer,
}

// IsValid reports whether the status is part of the order lifecycle.
func (s OrderStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartialCompleted, StatusFailedNoStock, StatusCancelledByCustomer:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusNew:
		return next == StatusCompleted || next == StatusFailedNoStock || next == StatusWaitingForReply
	case StatusWaitingForReply:
		return next == StatusPartialCompleted || next == StatusCancelledByCustomer || next == StatusFailedNoStock
	default:
		return false
	}
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return status, nil
}

// ReplyDecision is the buyer's answer to a partial-stock proposal.
type ReplyDecision string

const (
	ReplyApprove ReplyDecision = "APPROVE"
	ReplyReject  ReplyDecision = "REJECT"
)

// ParseReplyDecision accepts APPROVE or REJECT in any case.
func ParseReplyDecision(raw string) (ReplyDecision, error) {
	switch ReplyDecision(strings.ToUpper(strings.TrimSpace(raw))) {
	case ReplyApprove:
		return ReplyApprove, nil
	case ReplyReject:
		return ReplyReject, nil
	default:
		return "", ErrInvalidReplyDecision
	}
}
