package catalog

import (
	"sort"

	"github.com/stellune/credits-service/internal/models"
)

// Static product catalog. Prices are in the store currency's minor unit.
var products = map[string]models.CreditProduct{
	"credit_10":  {SKU: "credit_10", Credits: 10, Bonus: 0, Price: 1000},
	"credit_50":  {SKU: "credit_50", Credits: 50, Bonus: 5, Price: 4500},
	"credit_100": {SKU: "credit_100", Credits: 100, Bonus: 15, Price: 8000},
	"credit_300": {SKU: "credit_300", Credits: 300, Bonus: 60, Price: 21000},
}

// Per-action credit costs charged through UseCredits.
var actionCosts = map[string]int64{
	"tarot_draw":     1,
	"tarot_spread":   3,
	"birth_chart":    5,
	"compatibility":  5,
	"yearly_outlook": 10,
}

// Product resolves a sku. ok is false for unknown skus; callers decide
// whether that is an error or a zero-credit audit record.
func Product(sku string) (models.CreditProduct, bool) {
	p, ok := products[sku]
	return p, ok
}

// Products returns the catalog ordered by price ascending.
func Products() []models.CreditProduct {
	out := make([]models.CreditProduct, 0, len(products))
	for _, p := range products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// ActionCost returns the credit cost of an action, or 0, false if unknown.
func ActionCost(action string) (int64, bool) {
	c, ok := actionCosts[action]
	return c, ok
}

// ActionCosts returns a copy of the action-cost table.
func ActionCosts() map[string]int64 {
	out := make(map[string]int64, len(actionCosts))
	for k, v := range actionCosts {
		out[k] = v
	}
	return out
}
