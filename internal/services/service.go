package service

import (
	"context"
	"time"

	"github.com/stellune/credits-service/internal/lock"
	"github.com/stellune/credits-service/internal/models"
	"github.com/stellune/credits-service/internal/store"
)

// Retention and expiry applied through the store; the file backend ignores
// the TTLs by design.
const (
	transactionTTL       = 365 * 24 * time.Hour
	purchaseTTL          = 365 * 24 * time.Hour
	rewardTTL            = 90 * 24 * time.Hour
	transactionRetention = 10000
)

// Milestone streaks pay a fixed reward and suppress the daily bonus for
// that day. Non-milestone streaks pay the flat bonus every third day.
var streakMilestones = map[int]int64{
	7:  3,
	14: 5,
	21: 10,
	30: 20,
}

const (
	dailyBonusInterval = 3
	dailyBonusCredits  = 1
)

const (
	defaultInviterReward = 5
	defaultInviteeReward = 3
)

type AddCreditsParams struct {
	UserKey     string
	Amount      int64
	Type        models.TransactionType
	Description string
	OrderID     string
	SKU         string
}

type CompletePurchaseResult struct {
	Purchase         *models.PurchaseRecord `json:"purchase"`
	AlreadyCompleted bool                   `json:"already_completed"`
	CreditsGranted   int64                  `json:"credits_granted"`
}

type RefundPurchaseResult struct {
	Purchase        *models.PurchaseRecord `json:"purchase"`
	AlreadyRefunded bool                   `json:"already_refunded"`
}

type GrantedReward struct {
	Type    models.StreakRewardType `json:"type"`
	Credits int64                   `json:"credits"`
}

type StreakClaimResult struct {
	AlreadyClaimed bool            `json:"already_claimed"`
	TotalCredits   int64           `json:"total_credits"`
	Rewards        []GrantedReward `json:"rewards"`
}

type ReferralSide string

const (
	SideInviter ReferralSide = "inviter"
	SideInvitee ReferralSide = "invitee"
)

type ReferralClaimResult struct {
	AlreadyClaimed bool         `json:"already_claimed"`
	Credits        int64        `json:"credits"`
	Side           ReferralSide `json:"side"`
}

// EventPublisher receives best-effort ledger events; a nil publisher
// disables them. The Kafka producer satisfies this.
type EventPublisher interface {
	Send(ctx context.Context, key string, value []byte) error
}

type CreditService interface {
	GetBalance(ctx context.Context, userKey string) (*models.CreditBalance, error)
	HasEnoughCredits(ctx context.Context, userKey string, amount int64) (bool, error)
	AddCredits(ctx context.Context, p AddCreditsParams) (*models.CreditTransaction, error)
	UseCredits(ctx context.Context, userKey string, amount int64, description string) (*models.CreditTransaction, error)
	GetTransactionHistory(ctx context.Context, userKey string, limit int) ([]models.CreditTransaction, error)

	CreatePurchase(ctx context.Context, orderID, userKey, sku string, amountPaid int64) (*models.PurchaseRecord, error)
	CompletePurchase(ctx context.Context, orderID string) (*CompletePurchaseResult, error)
	RefundPurchase(ctx context.Context, orderID string) (*RefundPurchaseResult, error)
	GetPurchase(ctx context.Context, orderID string) (*models.PurchaseRecord, error)
	GetUserPurchases(ctx context.Context, userKey string) ([]models.PurchaseRecord, error)
	GetPendingPurchases(ctx context.Context) ([]models.PurchaseRecord, error)

	ClaimStreakReward(ctx context.Context, userKey, dateKey string, streak int) (*StreakClaimResult, error)
	HasClaimedStreakRewardToday(ctx context.Context, userKey, dateKey string) (bool, error)
	GetStreakRewardHistory(ctx context.Context, userKey string, limit int) ([]models.StreakRewardRecord, error)
	GetStreakRewardStats(ctx context.Context, userKey string) (*models.StreakRewardStats, error)

	ClaimReferralReward(ctx context.Context, inviterKey, inviteeKey, dateKey, claimerKey string) (*ReferralClaimResult, error)
	GetReferralStatus(ctx context.Context, inviterKey, inviteeKey, dateKey string) (*models.ReferralRecord, error)
	GetReferralStats(ctx context.Context, userKey string) (*models.ReferralStats, error)
}

type creditService struct {
	store  store.Store
	locker lock.Locker
	events EventPublisher

	inviterReward int64
	inviteeReward int64
}

type Options struct {
	InviterReward int64
	InviteeReward int64
}

func NewCreditService(st store.Store, locker lock.Locker, events EventPublisher, opts Options) *creditService {
	if opts.InviterReward <= 0 {
		opts.InviterReward = defaultInviterReward
	}
	if opts.InviteeReward <= 0 {
		opts.InviteeReward = defaultInviteeReward
	}
	return &creditService{
		store:         st,
		locker:        locker,
		events:        events,
		inviterReward: opts.InviterReward,
		inviteeReward: opts.InviteeReward,
	}
}
