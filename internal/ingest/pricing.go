package ingest

import (
	"strings"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

// PriceBook computes an enrollment's monthly price from the configured
// 2x2 rate table, with promotion rules checked first.
type PriceBook struct {
	rates  map[priceKey]decimal.Decimal
	promos []PromotionRule
}

type priceKey struct {
	mode   core.ClassMode
	pickup bool
}

func NewPriceBook(rules *Rules) *PriceBook {
	return &PriceBook{
		rates: map[priceKey]decimal.Decimal{
			{core.Individual, true}:  rules.Pricing.IndividualPickup.Decimal,
			{core.Group, true}:       rules.Pricing.GroupPickup.Decimal,
			{core.Individual, false}: rules.Pricing.IndividualNoPickup.Decimal,
			{core.Group, false}:      rules.Pricing.GroupNoPickup.Decimal,
		},
		promos: rules.Promotions,
	}
}

// MonthlyPrice selects the rate for (mode, pickup). A promotion whose match
// text occurs in the enrollment's promotion field overrides the table, e.g.
// a scholarship to zero or a bundle to a fixed discounted rate.
func (b *PriceBook) MonthlyPrice(mode core.ClassMode, homePickup bool, promotion string) decimal.Decimal {
	promo := strings.ToLower(NormalizeText(promotion))
	if promo != "" {
		for _, p := range b.promos {
			if strings.Contains(promo, strings.ToLower(p.Match)) {
				return p.Price.Decimal
			}
		}
	}
	return b.rates[priceKey{mode, homePickup}]
}
