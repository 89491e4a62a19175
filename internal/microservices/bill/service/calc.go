package service

import (
	"github.com/shopspring/decimal"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// MaxSplitShares caps equal splits.
const MaxSplitShares = 100

type Discount struct {
	Type   domain.DiscountType
	Value  decimal.Decimal
	Reason string
}

type CalcInput struct {
	Items             []domain.OrderItem
	Discount          Discount
	Taxes             []domain.Tax
	ServiceChargeRate decimal.Decimal
	RoundingIncrement int64
}

// Breakdown is a computed bill in minor units. It always satisfies
// Subtotal - DiscountAmount + ExclusiveTax + ServiceCharge + RoundOff == Total.
type Breakdown struct {
	Subtotal       int64
	DiscountAmount int64
	Taxes          []domain.TaxLine
	InclusiveTax   int64
	ExclusiveTax   int64
	ServiceCharge  int64
	RoundOff       int64
	Total          int64
}

// Calculate applies the discount first, then taxes and service charge on the
// discounted subtotal. Every component is rounded half-up on its own and the
// total is rounded to the cash increment.
func Calculate(in CalcInput) (Breakdown, error) {
	var b Breakdown
	for _, it := range in.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return Breakdown{}, apperr.Validation("line %d has an invalid quantity or price", it.LineNo)
		}
		b.Subtotal += it.LineTotal()
	}

	discount, err := discountAmount(b.Subtotal, in.Discount)
	if err != nil {
		return Breakdown{}, err
	}
	b.DiscountAmount = discount
	base := decimal.NewFromInt(b.Subtotal - discount)

	b.Taxes = make([]domain.TaxLine, 0, len(in.Taxes))
	for _, t := range in.Taxes {
		if !t.Active {
			continue
		}
		if t.Rate.IsNegative() {
			return Breakdown{}, apperr.Validation("tax %q has a negative rate", t.Name)
		}
		var amount int64
		if t.Inclusive {
			amount = base.Mul(t.Rate).Div(hundred.Add(t.Rate)).Round(0).IntPart()
			b.InclusiveTax += amount
		} else {
			amount = base.Mul(t.Rate).Div(hundred).Round(0).IntPart()
			b.ExclusiveTax += amount
		}
		b.Taxes = append(b.Taxes, domain.TaxLine{
			TaxID:     t.ID,
			Name:      t.Name,
			Rate:      t.Rate,
			Inclusive: t.Inclusive,
			Amount:    amount,
		})
	}

	if in.ServiceChargeRate.IsNegative() || in.ServiceChargeRate.GreaterThan(hundred) {
		return Breakdown{}, apperr.Validation("service charge rate must be between 0 and 100")
	}
	b.ServiceCharge = base.Mul(in.ServiceChargeRate).Div(hundred).Round(0).IntPart()

	pre := b.Subtotal - b.DiscountAmount + b.ExclusiveTax + b.ServiceCharge
	b.Total = roundTo(pre, in.RoundingIncrement)
	b.RoundOff = b.Total - pre
	return b, nil
}

func discountAmount(subtotal int64, d Discount) (int64, error) {
	switch d.Type {
	case domain.DiscountNone:
		if !d.Value.IsZero() {
			return 0, apperr.Validation("discount_type is required with a discount amount")
		}
		return 0, nil
	case domain.DiscountFixed, domain.DiscountPercentage:
	default:
		return 0, apperr.Validation("unknown discount type %q", d.Type)
	}
	if d.Value.IsNegative() {
		return 0, apperr.Validation("discount cannot be negative")
	}

	var amount int64
	if d.Type == domain.DiscountFixed {
		if !d.Value.Equal(d.Value.Truncate(0)) {
			return 0, apperr.Validation("fixed discount must be in whole minor units")
		}
		amount = d.Value.IntPart()
	} else {
		if d.Value.GreaterThan(hundred) {
			return 0, apperr.Validation("discount percentage cannot exceed 100")
		}
		amount = decimal.NewFromInt(subtotal).Mul(d.Value).Div(hundred).Round(0).IntPart()
	}
	if amount > subtotal {
		return 0, apperr.Validation("discount %d exceeds subtotal %d", amount, subtotal)
	}
	return amount, nil
}

// roundTo rounds v half-up to a multiple of inc.
func roundTo(v, inc int64) int64 {
	if inc <= 1 {
		return v
	}
	step := decimal.NewFromInt(inc)
	return decimal.NewFromInt(v).Div(step).Round(0).Mul(step).IntPart()
}

// EqualShares splits total into count parts; share 1 absorbs the remainder.
func EqualShares(total int64, count int) ([]int64, error) {
	if count < 2 {
		return nil, apperr.Validation("split_count must be at least 2")
	}
	if count > MaxSplitShares {
		return nil, apperr.Validation("split_count cannot exceed %d", MaxSplitShares)
	}
	base := total / int64(count)
	if base <= 0 {
		return nil, apperr.Validation("total %d cannot be split %d ways", total, count)
	}
	shares := make([]int64, count)
	for i := range shares {
		shares[i] = base
	}
	shares[0] += total - base*int64(count)
	return shares, nil
}

// ExplicitShares accepts caller amounts that sum to total within one minor
// unit; share 1 absorbs the difference.
func ExplicitShares(total int64, amounts []int64) ([]int64, error) {
	if len(amounts) < 2 {
		return nil, apperr.Validation("at least 2 shares are required")
	}
	if len(amounts) > MaxSplitShares {
		return nil, apperr.Validation("cannot split into more than %d shares", MaxSplitShares)
	}
	var sum int64
	for i, a := range amounts {
		if a <= 0 {
			return nil, apperr.Validation("share %d must be positive", i+1)
		}
		sum += a
	}
	diff := total - sum
	if diff < -1 || diff > 1 {
		return nil, apperr.Validation("shares sum to %d, bill total is %d", sum, total)
	}
	out := append([]int64(nil), amounts...)
	out[0] += diff
	if out[0] <= 0 {
		return nil, apperr.Validation("share 1 must be positive")
	}
	return out, nil
}
