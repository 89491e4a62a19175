package domain

// ItemInput is one cart line as submitted by a waiter or cashier.
type ItemInput struct {
	MenuItemID   string `json:"menu_item_id" valid:"required"`
	VariantID    string `json:"variant_id,omitempty"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions,omitempty" valid:"length(0|500)"`
}
