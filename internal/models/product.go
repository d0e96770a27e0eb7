package models

// CreditProduct is one entry of the static purchase catalog. Bonus credits
// are granted on top of the base amount when the purchase completes.
type CreditProduct struct {
	SKU     string `json:"sku"`
	Credits int64  `json:"credits"`
	Bonus   int64  `json:"bonus"`
	Price   int64  `json:"price"`
}

// TotalCredits is what a completed purchase of this product grants.
func (p CreditProduct) TotalCredits() int64 {
	return p.Credits + p.Bonus
}
