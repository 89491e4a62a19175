package dto

import (
	"time"

	"restaurant-pos/internal/domain"
)

// CreateOrderRequest accepts tables by id or by display number. tableNumber is
// the single-table form older cashier screens send.
type CreateOrderRequest struct {
	OrderType    string             `json:"order_type" valid:"in(dine_in|takeaway)"`
	TableIDs     []string           `json:"table_ids"`
	TableNumbers []int              `json:"table_numbers"`
	TableNumber  *int               `json:"tableNumber,omitempty"`
	Notes        string             `json:"notes" valid:"length(0|1000)"`
	Items        []domain.ItemInput `json:"items"`
}

type AppendItemsRequest struct {
	Items []domain.ItemInput `json:"items"`
}

type AdvanceItemRequest struct {
	Status   string `json:"status" valid:"required"`
	Override bool   `json:"override"`
	Note     string `json:"note" valid:"length(0|500)"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" valid:"required,length(1|500)"`
}

// KitchenItem is one line on the kitchen display.
type KitchenItem struct {
	ItemID       string            `json:"item_id"`
	OrderID      string            `json:"order_id"`
	OrderNumber  string            `json:"order_number"`
	OrderType    domain.OrderType  `json:"order_type"`
	Name         string            `json:"name"`
	Variant      string            `json:"variant,omitempty"`
	Quantity     int               `json:"quantity"`
	Instructions string            `json:"instructions,omitempty"`
	Status       domain.ItemStatus `json:"status"`
	OrderedAt    time.Time         `json:"ordered_at"`
}
