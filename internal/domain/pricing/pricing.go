// Package pricing resolves the effective unit price of a catalog product.
//
// Catalog feeds deliver prices as NUMERIC columns or as locale-formatted
// strings ("1.234,56" as well as "1234.56"). All parsing of such values is
// isolated here; raw external values never flow into arithmetic.
package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/orderlink/internal/domain/product"
)

// ParsePrice parses a price value that may use either '.' or ',' as the
// decimal separator. Empty or non-numeric input yields an invalid
// NullDecimal, never an error: callers must treat "absent" as a state of its
// own and not fold it into zero.
func ParsePrice(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}

	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		// Both present: the rightmost one is the decimal separator, the
		// other marks thousands.
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Resolve computes the effective unit price for p at the given instant.
//
// The promotional price wins iff it is present, greater than zero, strictly
// below the base price, and now falls inside the promotion window when one is
// set. Otherwise the base price applies. When neither price is present the
// result is invalid; callers render that as "price unavailable" and must not
// let it become zero in totals.
func Resolve(p *product.Product, now time.Time) decimal.NullDecimal {
	base := p.BasePrice
	promo := p.PromoPrice

	promoUsable := promo.Valid && promo.Decimal.IsPositive() && promoWindowOpen(p, now)

	switch {
	case base.Valid:
		if promoUsable && promo.Decimal.LessThan(base.Decimal) {
			return promo
		}
		return base
	case promoUsable:
		return promo
	default:
		return decimal.NullDecimal{}
	}
}

// promoWindowOpen reports whether now falls inside the product's promotion
// window. Missing bounds leave that side open; the end bound is exclusive.
func promoWindowOpen(p *product.Product, now time.Time) bool {
	if p.PromoStartsAt != nil && now.Before(*p.PromoStartsAt) {
		return false
	}
	if p.PromoEndsAt != nil && !now.Before(*p.PromoEndsAt) {
		return false
	}
	return true
}
