package lock

import "strings"

// Kind names one family of critical sections. Keys are built through the
// constructors below so unrelated operations can never collide by string
// concatenation accident.
type Kind string

const (
	// KindCredit guards all balance mutations for one user. AddCredits and
	// UseCredits share it deliberately: separate keys would let an add and a
	// use interleave and lose an update.
	KindCredit Kind = "credit"

	KindPurchaseComplete Kind = "purchase:complete"
	KindStreakClaim      Kind = "streak:claim"
	KindReferralClaim    Kind = "referral:claim"
)

type Key struct {
	Kind Kind
	IDs  []string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + strings.Join(k.IDs, ":")
}

// Lock ordering is fixed: a PurchaseComplete, StreakClaim or ReferralClaim
// lock is always acquired before the Credit lock it grants through, never
// the other way around. No call path may hold a Credit lock while waiting
// on a claim or order lock.

func Credit(userKey string) Key {
	return Key{Kind: KindCredit, IDs: []string{userKey}}
}

func PurchaseComplete(orderID string) Key {
	return Key{Kind: KindPurchaseComplete, IDs: []string{orderID}}
}

func StreakClaim(userKey, dateKey string) Key {
	return Key{Kind: KindStreakClaim, IDs: []string{userKey, dateKey}}
}

func ReferralClaim(inviterKey, inviteeKey, dateKey string) Key {
	return Key{Kind: KindReferralClaim, IDs: []string{inviterKey, inviteeKey, dateKey}}
}
