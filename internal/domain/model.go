// Package domain holds the entities shared by the coordinator services.
// Money is always int64 minor units; rates are percentages.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
	TableBilled   TableStatus = "billed"
)

type OrderType string

const (
	OrderDineIn   OrderType = "dine_in"
	OrderTakeaway OrderType = "takeaway"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type PaymentMethod string

const (
	MethodCash    PaymentMethod = "cash"
	MethodCard    PaymentMethod = "card"
	MethodMobile  PaymentMethod = "mobile"
	MethodVoucher PaymentMethod = "voucher"
	MethodOther   PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodMobile, MethodVoucher, MethodOther:
		return true
	}
	return false
}

type DiscountType string

const (
	DiscountNone       DiscountType = ""
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

type Table struct {
	ID             string      `json:"id"`
	Number         int         `json:"number"`
	Capacity       int         `json:"capacity"`
	Location       string      `json:"location"`
	Status         TableStatus `json:"status"`
	MergedWith     *string     `json:"merged_with"`
	CurrentOrderID *string     `json:"current_order_id"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type Order struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"order_number"`
	Type        OrderType   `json:"order_type"`
	Status      OrderStatus `json:"status"`
	Notes       string      `json:"notes"`
	CreatedBy   string      `json:"created_by"`
	OrderedAt   time.Time   `json:"ordered_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	TableIDs    []string    `json:"table_ids"`
	Items       []OrderItem `json:"items"`
}

type OrderItem struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"order_id"`
	LineNo       int        `json:"line_no"`
	MenuItemID   string     `json:"menu_item_id"`
	Name         string     `json:"name"`
	Variant      string     `json:"variant,omitempty"`
	Quantity     int        `json:"quantity"`
	UnitPrice    int64      `json:"unit_price"`
	Instructions string     `json:"instructions,omitempty"`
	Status       ItemStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LineTotal is the frozen unit price times quantity.
func (i OrderItem) LineTotal() int64 { return i.UnitPrice * int64(i.Quantity) }

type Bill struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	Subtotal          int64           `json:"subtotal"`
	DiscountType      DiscountType    `json:"discount_type"`
	DiscountValue     decimal.Decimal `json:"discount_value"`
	DiscountAmount    int64           `json:"discount_amount"`
	DiscountReason    string          `json:"discount_reason"`
	Taxes             []TaxLine       `json:"taxes"`
	InclusiveTax      int64           `json:"inclusive_tax"`
	ExclusiveTax      int64           `json:"exclusive_tax"`
	ServiceChargeRate decimal.Decimal `json:"service_charge_rate"`
	ServiceCharge     int64           `json:"service_charge"`
	RoundOff          int64           `json:"round_off"`
	Total             int64           `json:"total"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaidAt            *time.Time      `json:"paid_at"`
	Voided            bool            `json:"voided"`
	VoidReason        string          `json:"void_reason"`
	VoidedBy          string          `json:"voided_by"`
	VoidedAt          *time.Time      `json:"voided_at"`
	OrderStatusBefore OrderStatus     `json:"order_status_before"`
	PrintedCount      int             `json:"printed_count"`
	IsSplit           bool            `json:"is_split"`
	Splits            []SplitBill     `json:"splits,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type TaxLine struct {
	TaxID     string          `json:"tax_id"`
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	Inclusive bool            `json:"inclusive"`
	Amount    int64           `json:"amount"`
}

type SplitBill struct {
	ID            string        `json:"id"`
	BillID        string        `json:"bill_id"`
	ShareIndex    int           `json:"share_index"`
	Amount        int64         `json:"amount"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaidAt        *time.Time    `json:"paid_at"`
}

type Tax struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	Inclusive bool            `json:"inclusive"`
	Active    bool            `json:"active"`
}

// MenuItem is read-only to the coordinator; the migrate command can seed it
// from a YAML file.
type MenuItem struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Price     int64         `json:"price" yaml:"price"`
	Available bool          `json:"available" yaml:"available"`
	Variants  []MenuVariant `json:"variants,omitempty" yaml:"variants"`
}

type MenuVariant struct {
	ID         string `json:"id" yaml:"id"`
	MenuItemID string `json:"menu_item_id" yaml:"-"`
	Name       string `json:"name" yaml:"name"`
	Price      int64  `json:"price" yaml:"price"`
	Available  bool   `json:"available" yaml:"available"`
}

type AuditEntry struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Audited entity types.
const (
	EntityTable     = "table"
	EntityOrder     = "order"
	EntityOrderItem = "order_item"
	EntityBill      = "bill"
)

// Actor is the authenticated caller as passed in by the gateway.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

const (
	RoleWaiter  = "waiter"
	RoleCashier = "cashier"
	RoleKitchen = "kitchen"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// CanOverride reports whether the actor may force item transitions.
func (a Actor) CanOverride() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// SystemActor is used for startup seeding and maintenance commands.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}
