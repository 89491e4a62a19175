package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"restaurant-pos/internal/config"
)

func TestAmountFormatter(t *testing.T) {
	tests := []struct {
		name   string
		shop   config.ShopConfig
		minor  int64
		expect string
	}{
		{name: "english", shop: config.ShopConfig{Currency: "USD", Locale: "en", MinorUnitDecimals: 2}, minor: 2566, expect: "USD 25.66"},
		{name: "grouping", shop: config.ShopConfig{Currency: "USD", Locale: "en", MinorUnitDecimals: 2}, minor: 123450, expect: "USD 1,234.50"},
		{name: "german", shop: config.ShopConfig{Currency: "EUR", Locale: "de", MinorUnitDecimals: 2}, minor: 123450, expect: "EUR 1.234,50"},
		{name: "negative round off", shop: config.ShopConfig{Currency: "USD", Locale: "en", MinorUnitDecimals: 2}, minor: -5, expect: "USD -0.05"},
		{name: "no minor unit", shop: config.ShopConfig{Currency: "JPY", Locale: "en", MinorUnitDecimals: 0}, minor: 1500, expect: "JPY 1,500"},
		{
			name:   "beyond float precision",
			shop:   config.ShopConfig{Currency: "USD", Locale: "en", MinorUnitDecimals: 2},
			minor:  900719925474099199,
			expect: "USD 9,007,199,254,740,991.99",
		},
		{name: "bad locale falls back", shop: config.ShopConfig{Currency: "USD", Locale: "??", MinorUnitDecimals: 2}, minor: 100, expect: "USD 1.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, newAmountFormatter(tt.shop).format(tt.minor))
		})
	}
}
