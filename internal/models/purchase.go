package models

import "time"

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// PurchaseRecord tracks one order through pending→completed or
// pending→refunded. Credits is resolved from the catalog at creation time
// (base + bonus) so later catalog changes never alter what an order grants.
type PurchaseRecord struct {
	OrderID     string         `json:"order_id"`
	UserKey     string         `json:"user_key"`
	SKU         string         `json:"sku"`
	Credits     int64          `json:"credits"`
	AmountPaid  int64          `json:"amount_paid"`
	Status      PurchaseStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
