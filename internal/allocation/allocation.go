// Package allocation decides, per line item, how much of a request the
// current stock snapshot can supply and classifies the order as a whole.
//
// Decide is pure: it performs no I/O and never mutates its inputs. Stock
// snapshots are advisory; whatever is decided here is enforced only by the
// reservation layer.
package allocation

import "github.com/garvit124/AutoPO/internal/domain"

type Outcome string

const (
	OutcomeFull    Outcome = "FULL"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeNone    Outcome = "NONE"
)

type Classification string

const (
	AllFull Classification = "ALL_FULL"
	AllNone Classification = "ALL_NONE"
	Mixed   Classification = "MIXED"
)

// Decision is the allocation outcome for a single line item.
type Decision struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
	Allocatable int
	Outcome     Outcome
}

// Decide computes one decision per item against stock and the aggregate
// classification. Products missing from stock have zero availability.
func Decide(items []domain.LineItem, stock map[string]int) ([]Decision, Classification) {
	decisions := make([]Decision, 0, len(items))
	for _, item := range items {
		decisions = append(decisions, decideItem(item, stock[item.ProductID]))
	}
	return decisions, Classify(decisions)
}

func decideItem(item domain.LineItem, available int) Decision {
	if available < 0 {
		available = 0
	}
	d := Decision{
		ProductID:   item.ProductID,
		ProductName: item.ProductName,
		Requested:   item.Quantity,
		Available:   available,
	}
	switch {
	case item.Quantity <= 0:
		// Nothing requested means nothing to supply; the item never blocks
		// an otherwise full order.
		d.Outcome = OutcomeFull
	case available >= item.Quantity:
		d.Allocatable = item.Quantity
		d.Outcome = OutcomeFull
	case available > 0:
		d.Allocatable = available
		d.Outcome = OutcomePartial
	default:
		d.Outcome = OutcomeNone
	}
	return d
}

// Classify aggregates decisions. An empty set is ALL_NONE: nothing can be supplied.
func Classify(decisions []Decision) Classification {
	if len(decisions) == 0 {
		return AllNone
	}
	full, none := true, true
	for _, d := range decisions {
		if d.Outcome != OutcomeFull {
			full = false
		}
		if d.Outcome != OutcomeNone {
			none = false
		}
	}
	switch {
	case full:
		return AllFull
	case none:
		return AllNone
	default:
		return Mixed
	}
}

// Allocatable returns the non-zero allocatable quantities, in decision order.
func Allocatable(decisions []Decision) []domain.Allocation {
	out := make([]domain.Allocation, 0, len(decisions))
	for _, d := range decisions {
		if d.Allocatable > 0 {
			out = append(out, domain.Allocation{ProductID: d.ProductID, Quantity: d.Allocatable})
		}
	}
	return out
}

// FromReserved re-decides items treating the actually reserved quantities as
// the available stock, so a reservation shortfall can be re-classified.
func FromReserved(items []domain.LineItem, reserved []domain.Allocation) ([]Decision, Classification) {
	stock := make(map[string]int, len(reserved))
	for _, r := range reserved {
		stock[r.ProductID] += r.Quantity
	}
	return Decide(items, stock)
}
