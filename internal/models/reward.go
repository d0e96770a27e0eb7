package models

import (
	"fmt"
	"time"
)

type StreakRewardType string

const (
	StreakMilestone  StreakRewardType = "milestone"
	StreakDailyBonus StreakRewardType = "daily_bonus"
)

// StreakRewardRecord exists only for days on which a reward was actually
// granted; a non-eligible day leaves no record and can be probed repeatedly.
type StreakRewardRecord struct {
	ID         string           `json:"id"`
	UserKey    string           `json:"user_key"`
	DateKey    string           `json:"date_key"`
	Streak     int              `json:"streak"`
	RewardType StreakRewardType `json:"reward_type"`
	Credits    int64            `json:"credits"`
	CreatedAt  time.Time        `json:"created_at"`
}

// StreakRewardID is the dedup key: at most one record per (user, date).
func StreakRewardID(userKey, dateKey string) string {
	return fmt.Sprintf("%s:%s", userKey, dateKey)
}

// ReferralRecord tracks both sides of one referral pairing for one day.
// Each side flips false→true at most once, independently of the other.
type ReferralRecord struct {
	ID                string     `json:"id"`
	InviterKey        string     `json:"inviter_key"`
	InviteeKey        string     `json:"invitee_key"`
	DateKey           string     `json:"date_key"`
	InviterCredited   bool       `json:"inviter_credited"`
	InviteeCredited   bool       `json:"invitee_credited"`
	InviterCredits    int64      `json:"inviter_credits,omitempty"`
	InviteeCredits    int64      `json:"invitee_credits,omitempty"`
	InviterCreditedAt *time.Time `json:"inviter_credited_at,omitempty"`
	InviteeCreditedAt *time.Time `json:"invitee_credited_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ReferralID is the dedup key for a pairing on a given day.
func ReferralID(inviterKey, inviteeKey, dateKey string) string {
	return fmt.Sprintf("%s:%s:%s", inviterKey, inviteeKey, dateKey)
}

// StreakRewardStats is a read-only aggregation over a user's streak records.
type StreakRewardStats struct {
	TotalCredits      int64    `json:"total_credits"`
	TotalRewards      int      `json:"total_rewards"`
	MilestonesReached []int    `json:"milestones_reached"`
	LastRewardDateKey string   `json:"last_reward_date_key,omitempty"`
}

// ReferralStats aggregates a user's referral history from both sides.
type ReferralStats struct {
	TotalInvited   int   `json:"total_invited"`
	TotalCredits   int64 `json:"total_credits"`
	InviterCredits int64 `json:"inviter_credits"`
	InviteeCredits int64 `json:"invitee_credits"`
}
