package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellune/credits-service/internal/models"
)

func TestResolveStreakReward(t *testing.T) {
	cases := []struct {
		streak  int
		want    models.StreakRewardType
		credits int64
	}{
		{1, "", 0},
		{2, "", 0},
		{3, models.StreakDailyBonus, 1},
		{4, "", 0},
		{6, models.StreakDailyBonus, 1},
		{7, models.StreakMilestone, 3},
		{9, models.StreakDailyBonus, 1},
		{12, models.StreakDailyBonus, 1},
		{14, models.StreakMilestone, 5},
		{21, models.StreakMilestone, 10},
		{30, models.StreakMilestone, 20},
		{33, models.StreakDailyBonus, 1},
		{0, "", 0},
	}
	for _, tc := range cases {
		gotType, gotCredits := resolveStreakReward(tc.streak)
		assert.Equal(t, tc.want, gotType, "streak %d", tc.streak)
		assert.Equal(t, tc.credits, gotCredits, "streak %d", tc.streak)
	}
}

func TestClaimStreakReward_Milestone(t *testing.T) {
	backends(t, func(t *testing.T, svc *creditService) {
		ctx := context.Background()

		res, err := svc.ClaimStreakReward(ctx, "u1", "2026-09-01", 7)
		require.NoError(t, err)
		assert.False(t, res.AlreadyClaimed)
		assert.Equal(t, int64(3), res.TotalCredits)
		require.Len(t, res.Rewards, 1)
		assert.Equal(t, models.StreakMilestone, res.Rewards[0].Type)

		bal, err := svc.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), bal.Credits)

		// second claim on the same day is an idempotent no-op
		res, err = svc.ClaimStreakReward(ctx, "u1", "2026-09-01", 7)
		require.NoError(t, err)
		assert.True(t, res.AlreadyClaimed)
		assert.Zero(t, res.TotalCredits)

		bal, err = svc.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), bal.Credits)

		requireLedgerInvariant(t, svc, "u1")
	})
}

func TestClaimStreakReward_DailyBonus(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	res, err := svc.ClaimStreakReward(ctx, "u1", "2026-09-01", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TotalCredits)
	require.Len(t, res.Rewards, 1)
	assert.Equal(t, models.StreakDailyBonus, res.Rewards[0].Type)
}

func TestClaimStreakReward_NonEligibleDayPersistsNothing(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.ClaimStreakReward(ctx, "u1", "2026-09-01", 5)
		require.NoError(t, err)
		assert.False(t, res.AlreadyClaimed, "an empty day never becomes claimed")
		assert.Zero(t, res.TotalCredits)
		assert.Empty(t, res.Rewards)
	}

	claimed, err := svc.HasClaimedStreakRewardToday(ctx, "u1", "2026-09-01")
	require.NoError(t, err)
	assert.False(t, claimed)

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal.Credits)
}

func TestClaimStreakReward_ConcurrentSameDay(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	grants := make(chan int64, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := svc.ClaimStreakReward(ctx, "u1", "2026-09-01", 30)
			if err == nil && !res.AlreadyClaimed && res.TotalCredits > 0 {
				grants <- res.TotalCredits
			}
		}()
	}
	wg.Wait()
	close(grants)

	var granted int
	for range grants {
		granted++
	}
	assert.Equal(t, 1, granted, "one claim wins, the rest observe it")

	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal.Credits)
}

func TestHasClaimedStreakRewardToday(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	claimed, err := svc.HasClaimedStreakRewardToday(ctx, "u1", "2026-09-01")
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = svc.ClaimStreakReward(ctx, "u1", "2026-09-01", 7)
	require.NoError(t, err)

	claimed, err = svc.HasClaimedStreakRewardToday(ctx, "u1", "2026-09-01")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = svc.HasClaimedStreakRewardToday(ctx, "u1", "2026-09-02")
	require.NoError(t, err)
	assert.False(t, claimed, "claims are per day")
}

func TestStreakRewardHistoryAndStats(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	claims := []struct {
		dateKey string
		streak  int
	}{
		{"2026-08-25", 3},
		{"2026-08-29", 7},
		{"2026-09-01", 9},
	}
	for _, c := range claims {
		_, err := svc.ClaimStreakReward(ctx, "u1", c.dateKey, c.streak)
		require.NoError(t, err)
	}

	history, err := svc.GetStreakRewardHistory(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2026-09-01", history[0].DateKey, "newest first")

	limited, err := svc.GetStreakRewardHistory(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := svc.GetStreakRewardStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalCredits) // 1 + 3 + 1
	assert.Equal(t, 3, stats.TotalRewards)
	assert.Equal(t, []int{7}, stats.MilestonesReached)
	assert.Equal(t, "2026-09-01", stats.LastRewardDateKey)
}

func TestStreakRewardStats_EmptyUser(t *testing.T) {
	svc := newFileBackedService(t)

	stats, err := svc.GetStreakRewardStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRewards)
	assert.Empty(t, stats.MilestonesReached)
	assert.Empty(t, stats.LastRewardDateKey)
}
