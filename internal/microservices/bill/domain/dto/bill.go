package dto

import (
	"github.com/shopspring/decimal"

	"restaurant-pos/internal/domain"
)

// GenerateBillRequest carries the cashier's adjustments. discount_amount is
// minor units for fixed discounts and a percentage otherwise.
type GenerateBillRequest struct {
	OrderID           string           `json:"orderId" valid:"required"`
	DiscountType      string           `json:"discount_type" valid:"in(fixed|percentage)"`
	DiscountAmount    *decimal.Decimal `json:"discount_amount"`
	DiscountReason    string           `json:"discount_reason" valid:"length(0|500)"`
	ServiceChargeRate *decimal.Decimal `json:"service_charge_rate"`
}

type PaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status" valid:"required,in(pending|paid)"`
}

type VoidRequest struct {
	VoidReason string `json:"void_reason" valid:"length(0|500)"`
}

type SplitRequest struct {
	SplitCount int     `json:"split_count"`
	Shares     []int64 `json:"shares"`
}

type SplitPaymentRequest struct {
	PaymentMethod string `json:"payment_method" valid:"required"`
}

// ShopSnapshot is the branding printed on a receipt.
type ShopSnapshot struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Currency string `json:"currency"`
	Locale   string `json:"locale"`
}

// FormattedAmounts holds locale-formatted copies of the bill amounts.
type FormattedAmounts struct {
	Subtotal      string            `json:"subtotal"`
	Discount      string            `json:"discount"`
	InclusiveTax  string            `json:"inclusive_tax"`
	ExclusiveTax  string            `json:"exclusive_tax"`
	ServiceCharge string            `json:"service_charge"`
	RoundOff      string            `json:"round_off"`
	Total         string            `json:"total"`
	Lines         map[string]string `json:"lines"`
	Splits        []string          `json:"splits,omitempty"`
}

type BillView struct {
	domain.Bill
	OrderNumber string             `json:"order_number"`
	OrderType   domain.OrderType   `json:"order_type"`
	Items       []domain.OrderItem `json:"items"`
	Shop        ShopSnapshot       `json:"shop"`
	Formatted   FormattedAmounts   `json:"formatted"`
}
