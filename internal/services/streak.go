package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stellune/credits-service/internal/lock"
	"github.com/stellune/credits-service/internal/models"
	"github.com/stellune/credits-service/internal/store"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// ClaimStreakReward grants at most one reward per (user, date): an exact
// milestone wins and suppresses the daily bonus; otherwise every third
// streak day pays the flat bonus. Days that earn nothing persist nothing,
// so they can be probed repeatedly without becoming "claimed".
func (s *creditService) ClaimStreakReward(ctx context.Context, userKey, dateKey string, streak int) (*StreakClaimResult, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "ClaimStreakReward")
	span.SetAttributes(
		attribute.String("user_key", userKey),
		attribute.String("date_key", dateKey),
		attribute.Int("streak", streak),
	)
	defer span.End()

	var err error
	defer func() { s.observeOp("ClaimStreakReward", err) }()

	if userKey == "" || dateKey == "" {
		err = pkgerrors.ErrEmptyUserKey
		return nil, err
	}

	lease, lockErr := s.locker.Acquire(ctx, lock.StreakClaim(userKey, dateKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer lease.Release(ctx)

	id := models.StreakRewardID(userKey, dateKey)
	var existing models.StreakRewardRecord
	getErr := s.store.Get(ctx, store.StreakRewardKey(id), &existing)
	if getErr == nil {
		slog.Info("streak reward already claimed, no-op",
			"user_key", userKey, "date_key", dateKey)
		return &StreakClaimResult{AlreadyClaimed: true, Rewards: []GrantedReward{}}, nil
	}
	if !stderrors.Is(getErr, store.ErrNotFound) {
		err = getErr
		span.RecordError(err)
		return nil, err
	}

	rewardType, credits := resolveStreakReward(streak)
	if credits == 0 {
		return &StreakClaimResult{Rewards: []GrantedReward{}}, nil
	}

	now := time.Now().UTC()
	rec := &models.StreakRewardRecord{
		ID:         id,
		UserKey:    userKey,
		DateKey:    dateKey,
		Streak:     streak,
		RewardType: rewardType,
		Credits:    credits,
		CreatedAt:  now,
	}

	userIdx := store.UserStreakRewardsIndex(userKey)
	extra := store.NewBatch().
		SetTTL(store.StreakRewardKey(id), rec, rewardTTL).
		IndexAdd(userIdx, id, now.UnixNano()).
		IndexExpire(userIdx, rewardTTL).
		Ops

	description := fmt.Sprintf("Daily streak bonus (day %d)", streak)
	if rewardType == models.StreakMilestone {
		description = fmt.Sprintf("Streak milestone reward (%d days)", streak)
	}

	userLease, lockErr := s.locker.Acquire(ctx, lock.Credit(userKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer userLease.Release(ctx)

	if _, err = s.addCreditsLocked(ctx, AddCreditsParams{
		UserKey:     userKey,
		Amount:      credits,
		Type:        models.TypeBonus,
		Description: description,
	}, extra); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit grant failed")
		return nil, err
	}

	slog.Info("streak reward granted",
		"user_key", userKey,
		"date_key", dateKey,
		"streak", streak,
		"reward_type", rewardType,
		"credits", credits)
	s.publishEvent(ctx, "streak_reward_granted", rec)
	return &StreakClaimResult{
		TotalCredits: credits,
		Rewards:      []GrantedReward{{Type: rewardType, Credits: credits}},
	}, nil
}

// resolveStreakReward returns the reward a streak earns today, zero credits
// meaning none. Milestone and daily bonus are mutually exclusive.
func resolveStreakReward(streak int) (models.StreakRewardType, int64) {
	if credits, ok := streakMilestones[streak]; ok {
		return models.StreakMilestone, credits
	}
	if streak >= dailyBonusInterval && streak%dailyBonusInterval == 0 {
		return models.StreakDailyBonus, dailyBonusCredits
	}
	return "", 0
}

func (s *creditService) HasClaimedStreakRewardToday(ctx context.Context, userKey, dateKey string) (bool, error) {
	var rec models.StreakRewardRecord
	err := s.store.Get(ctx, store.StreakRewardKey(models.StreakRewardID(userKey, dateKey)), &rec)
	if stderrors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *creditService) GetStreakRewardHistory(ctx context.Context, userKey string, limit int) ([]models.StreakRewardRecord, error) {
	if userKey == "" {
		return nil, pkgerrors.ErrEmptyUserKey
	}
	ids, err := s.store.IndexRange(ctx, store.UserStreakRewardsIndex(userKey), limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.StreakRewardRecord, 0, len(ids))
	for _, id := range ids {
		var rec models.StreakRewardRecord
		if err := s.store.Get(ctx, store.StreakRewardKey(id), &rec); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *creditService) GetStreakRewardStats(ctx context.Context, userKey string) (*models.StreakRewardStats, error) {
	history, err := s.GetStreakRewardHistory(ctx, userKey, 0)
	if err != nil {
		return nil, err
	}

	stats := &models.StreakRewardStats{MilestonesReached: []int{}}
	seen := make(map[int]bool)
	for i, rec := range history {
		stats.TotalCredits += rec.Credits
		stats.TotalRewards++
		if rec.RewardType == models.StreakMilestone && !seen[rec.Streak] {
			seen[rec.Streak] = true
			stats.MilestonesReached = append(stats.MilestonesReached, rec.Streak)
		}
		if i == 0 {
			stats.LastRewardDateKey = rec.DateKey
		}
	}
	sort.Ints(stats.MilestonesReached)
	return stats, nil
}
