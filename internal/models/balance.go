package models

import "time"

// CreditBalance is the mutable per-user record. Credits always equals the
// sum of the user's transaction amounts; it is re-read under the per-user
// lock before every mutation and never trusted from a pre-lock read.
type CreditBalance struct {
	UserKey        string    `json:"user_key"`
	Credits        int64     `json:"credits"`
	TotalPurchased int64     `json:"total_purchased"`
	TotalUsed      int64     `json:"total_used"`
	LastUpdated    time.Time `json:"last_updated"`
}
