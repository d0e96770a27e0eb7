package models

import "time"

type TransactionType string

const (
	TypePurchase TransactionType = "purchase"
	TypeBonus    TransactionType = "bonus"
	TypeRefund   TransactionType = "refund"
	TypeUse      TransactionType = "use"
)

// ValidTransactionType reports whether t is one of the known ledger types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypePurchase, TypeBonus, TypeRefund, TypeUse:
		return true
	}
	return false
}

// CreditTransaction is an immutable ledger entry. Amount is signed: negative
// for type "use", positive otherwise. Balance snapshots the user's credits
// after this entry was applied.
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserKey     string          `json:"user_key"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Balance     int64           `json:"balance"`
	Description string          `json:"description"`
	OrderID     string          `json:"order_id,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
