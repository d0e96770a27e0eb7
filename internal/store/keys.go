package store

import "fmt"

// Key layout shared by all backends. The segment before the first colon is
// the table name; the file backend keeps one JSON document per table.

func BalanceKey(userKey string) string {
	return fmt.Sprintf("balance:%s", userKey)
}

func TransactionKey(id string) string {
	return fmt.Sprintf("transaction:%s", id)
}

func PurchaseKey(orderID string) string {
	return fmt.Sprintf("purchase:%s", orderID)
}

func ReferralKey(id string) string {
	return fmt.Sprintf("referral:%s", id)
}

func StreakRewardKey(id string) string {
	return fmt.Sprintf("streak:%s", id)
}

func UserTransactionsIndex(userKey string) string {
	return fmt.Sprintf("idx:transactions:%s", userKey)
}

func UserPurchasesIndex(userKey string) string {
	return fmt.Sprintf("idx:purchases:%s", userKey)
}

// PendingPurchasesIndex tracks orders awaiting payment confirmation; members
// are removed when the order completes or refunds.
const PendingPurchasesIndex = "idx:purchases_pending"

func UserReferralsIndex(userKey string) string {
	return fmt.Sprintf("idx:referrals:%s", userKey)
}

func UserStreakRewardsIndex(userKey string) string {
	return fmt.Sprintf("idx:streaks:%s", userKey)
}
