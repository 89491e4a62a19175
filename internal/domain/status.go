package domain

import "restaurant-pos/internal/apperr"

type ItemStatus string

const (
	ItemNew        ItemStatus = "new"
	ItemInProgress ItemStatus = "in_progress"
	ItemReady      ItemStatus = "ready"
	ItemServed     ItemStatus = "served"
)

var itemRank = map[ItemStatus]int{
	ItemNew:        0,
	ItemInProgress: 1,
	ItemReady:      2,
	ItemServed:     3,
}

func (s ItemStatus) Valid() bool {
	_, ok := itemRank[s]
	return ok
}

type OrderStatus string

const (
	OrderNew        OrderStatus = "new"
	OrderInProgress OrderStatus = "in_progress"
	OrderReady      OrderStatus = "ready"
	OrderServed     OrderStatus = "served"
	OrderBilled     OrderStatus = "billed"
	OrderVoided     OrderStatus = "voided"
)

// Open reports whether the order still accepts items and status changes.
func (s OrderStatus) Open() bool {
	return s != OrderBilled && s != OrderVoided
}

// CheckItemTransition validates from -> to. Repeating the current status is a
// no-op. Without override only the single next step is allowed.
func CheckItemTransition(from, to ItemStatus, override bool) (noop bool, err error) {
	if !to.Valid() {
		return false, apperr.Validation("unknown item status %q", to)
	}
	if from == to {
		return true, nil
	}
	if override {
		return false, nil
	}
	if itemRank[to] != itemRank[from]+1 {
		return false, apperr.InvalidState("item cannot move from %s to %s", from, to)
	}
	return false, nil
}

// ReduceOrderStatus derives the order status from its items: the least
// progressed item wins. An order without items is new.
func ReduceOrderStatus(items []OrderItem) OrderStatus {
	if len(items) == 0 {
		return OrderNew
	}
	lowest := itemRank[ItemServed]
	for _, it := range items {
		if r, ok := itemRank[it.Status]; ok && r < lowest {
			lowest = r
		}
	}
	switch lowest {
	case 0:
		return OrderNew
	case 1:
		return OrderInProgress
	case 2:
		return OrderReady
	default:
		return OrderServed
	}
}
