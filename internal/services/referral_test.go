package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

func TestClaimReferralReward_Validation(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	_, err := svc.ClaimReferralReward(ctx, "", "invitee", "2026-09-01", "invitee")
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyUserKey)

	_, err = svc.ClaimReferralReward(ctx, "alice", "alice", "2026-09-01", "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrSameUser)

	_, err = svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "mallory")
	assert.ErrorIs(t, err, pkgerrors.ErrUnauthorizedClaimer)

	bal, err := svc.GetBalance(ctx, "mallory")
	require.NoError(t, err)
	assert.Zero(t, bal.Credits)
}

func TestClaimReferralReward_BothSidesIndependent(t *testing.T) {
	backends(t, func(t *testing.T, svc *creditService) {
		ctx := context.Background()

		inviter, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "alice")
		require.NoError(t, err)
		assert.False(t, inviter.AlreadyClaimed)
		assert.Equal(t, SideInviter, inviter.Side)
		assert.Equal(t, int64(defaultInviterReward), inviter.Credits)

		// the inviter's claim must not have granted the invitee anything
		bobBal, err := svc.GetBalance(ctx, "bob")
		require.NoError(t, err)
		assert.Zero(t, bobBal.Credits)

		invitee, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "bob")
		require.NoError(t, err)
		assert.False(t, invitee.AlreadyClaimed)
		assert.Equal(t, SideInvitee, invitee.Side)
		assert.Equal(t, int64(defaultInviteeReward), invitee.Credits)

		aliceBal, err := svc.GetBalance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(defaultInviterReward), aliceBal.Credits)

		bobBal, err = svc.GetBalance(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(defaultInviteeReward), bobBal.Credits)

		// repeats on either side are idempotent no-ops
		again, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "alice")
		require.NoError(t, err)
		assert.True(t, again.AlreadyClaimed)

		again, err = svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "bob")
		require.NoError(t, err)
		assert.True(t, again.AlreadyClaimed)

		requireLedgerInvariant(t, svc, "alice")
		requireLedgerInvariant(t, svc, "bob")
	})
}

func TestClaimReferralReward_ConfiguredRewards(t *testing.T) {
	svc := newFileBackedService(t)
	svc.inviterReward = 11
	svc.inviteeReward = 7
	ctx := context.Background()

	res, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.Credits)

	res, err = svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Credits)
}

func TestClaimReferralReward_ConcurrentSameSide(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	grants := make(chan int64, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			res, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "bob")
			if err == nil && !res.AlreadyClaimed {
				grants <- res.Credits
			}
		}()
	}
	wg.Wait()
	close(grants)

	var granted int
	for range grants {
		granted++
	}
	assert.Equal(t, 1, granted)

	bal, err := svc.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(defaultInviteeReward), bal.Credits)
}

func TestGetReferralStatus(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	t.Run("unclaimed pairing yields zero record", func(t *testing.T) {
		rec, err := svc.GetReferralStatus(ctx, "alice", "bob", "2026-09-01")
		require.NoError(t, err)
		assert.False(t, rec.InviterCredited)
		assert.False(t, rec.InviteeCredited)
		assert.Equal(t, "alice", rec.InviterKey)
	})

	t.Run("reflects one-sided claim", func(t *testing.T) {
		_, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "bob")
		require.NoError(t, err)

		rec, err := svc.GetReferralStatus(ctx, "alice", "bob", "2026-09-01")
		require.NoError(t, err)
		assert.False(t, rec.InviterCredited)
		assert.True(t, rec.InviteeCredited)
		require.NotNil(t, rec.InviteeCreditedAt)
	})
}

func TestGetReferralStats(t *testing.T) {
	svc := newFileBackedService(t)
	ctx := context.Background()

	// alice invites bob and carol; bob claims his own side too
	_, err := svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "alice")
	require.NoError(t, err)
	_, err = svc.ClaimReferralReward(ctx, "alice", "carol", "2026-09-01", "alice")
	require.NoError(t, err)
	_, err = svc.ClaimReferralReward(ctx, "alice", "bob", "2026-09-01", "bob")
	require.NoError(t, err)

	aliceStats, err := svc.GetReferralStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, aliceStats.TotalInvited)
	assert.Equal(t, int64(2*defaultInviterReward), aliceStats.InviterCredits)
	assert.Zero(t, aliceStats.InviteeCredits)
	assert.Equal(t, int64(2*defaultInviterReward), aliceStats.TotalCredits)

	bobStats, err := svc.GetReferralStats(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, bobStats.TotalInvited)
	assert.Equal(t, int64(defaultInviteeReward), bobStats.InviteeCredits)
	assert.Equal(t, int64(defaultInviteeReward), bobStats.TotalCredits)
}
