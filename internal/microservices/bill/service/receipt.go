package service

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/domain"
	"restaurant-pos/internal/microservices/bill/domain/dto"
)

// amountFormatter renders minor units in the shop locale, e.g. "EUR 1.234,50".
// The whole and fractional parts are printed separately so amounts stay exact.
type amountFormatter struct {
	printer  *message.Printer
	currency string
	decimals int
	sep      string
}

func newAmountFormatter(shop config.ShopConfig) amountFormatter {
	tag, err := language.Parse(shop.Locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	sep := p.Sprint(number.Decimal(0.5, number.Scale(1)))
	sep = strings.TrimSuffix(strings.TrimPrefix(sep, "0"), "5")
	if sep == "" {
		sep = "."
	}
	return amountFormatter{printer: p, currency: shop.Currency, decimals: shop.MinorUnitDecimals, sep: sep}
}

func (f amountFormatter) format(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if f.decimals <= 0 {
		return f.currency + " " + sign + f.printer.Sprint(number.Decimal(minor))
	}
	unit := int64(1)
	for i := 0; i < f.decimals; i++ {
		unit *= 10
	}
	whole := f.printer.Sprint(number.Decimal(minor / unit))
	return fmt.Sprintf("%s %s%s%s%0*d", f.currency, sign, whole, f.sep, f.decimals, minor%unit)
}

func buildView(b domain.Bill, o domain.Order, shop config.ShopConfig) dto.BillView {
	f := newAmountFormatter(shop)
	formatted := dto.FormattedAmounts{
		Subtotal:      f.format(b.Subtotal),
		Discount:      f.format(b.DiscountAmount),
		InclusiveTax:  f.format(b.InclusiveTax),
		ExclusiveTax:  f.format(b.ExclusiveTax),
		ServiceCharge: f.format(b.ServiceCharge),
		RoundOff:      f.format(b.RoundOff),
		Total:         f.format(b.Total),
		Lines:         make(map[string]string, len(o.Items)),
	}
	for _, it := range o.Items {
		formatted.Lines[it.ID] = f.format(it.LineTotal())
	}
	for _, s := range b.Splits {
		formatted.Splits = append(formatted.Splits, f.format(s.Amount))
	}
	return dto.BillView{
		Bill:        b,
		OrderNumber: o.OrderNumber,
		OrderType:   o.Type,
		Items:       o.Items,
		Shop: dto.ShopSnapshot{
			Name:     shop.Name,
			Address:  shop.Address,
			Currency: shop.Currency,
			Locale:   shop.Locale,
		},
		Formatted: formatted,
	}
}
