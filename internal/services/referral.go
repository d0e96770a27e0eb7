package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stellune/credits-service/internal/lock"
	"github.com/stellune/credits-service/internal/models"
	"github.com/stellune/credits-service/internal/store"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// ClaimReferralReward credits the claimer's side of a confirmed pairing.
// The two sides are independent: each flips its flag at most once, and one
// side's claim never grants or blocks the other's. Validation happens
// before any lock is taken.
func (s *creditService) ClaimReferralReward(ctx context.Context, inviterKey, inviteeKey, dateKey, claimerKey string) (*ReferralClaimResult, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "ClaimReferralReward")
	span.SetAttributes(
		attribute.String("inviter_key", inviterKey),
		attribute.String("invitee_key", inviteeKey),
		attribute.String("date_key", dateKey),
	)
	defer span.End()

	var err error
	defer func() { s.observeOp("ClaimReferralReward", err) }()

	if inviterKey == "" || inviteeKey == "" || dateKey == "" {
		err = pkgerrors.ErrEmptyUserKey
		return nil, err
	}
	if inviterKey == inviteeKey {
		err = pkgerrors.ErrSameUser
		return nil, err
	}
	if claimerKey != inviterKey && claimerKey != inviteeKey {
		err = pkgerrors.ErrUnauthorizedClaimer
		slog.Warn("unauthorized referral claim",
			"inviter_key", inviterKey,
			"invitee_key", inviteeKey,
			"claimer_key", claimerKey)
		return nil, err
	}

	side := SideInvitee
	credits := s.inviteeReward
	if claimerKey == inviterKey {
		side = SideInviter
		credits = s.inviterReward
	}

	lease, lockErr := s.locker.Acquire(ctx, lock.ReferralClaim(inviterKey, inviteeKey, dateKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer lease.Release(ctx)

	id := models.ReferralID(inviterKey, inviteeKey, dateKey)
	now := time.Now().UTC()

	rec := &models.ReferralRecord{
		ID:         id,
		InviterKey: inviterKey,
		InviteeKey: inviteeKey,
		DateKey:    dateKey,
		CreatedAt:  now,
	}
	getErr := s.store.Get(ctx, store.ReferralKey(id), rec)
	if getErr != nil && !stderrors.Is(getErr, store.ErrNotFound) {
		err = getErr
		span.RecordError(err)
		return nil, err
	}

	if (side == SideInviter && rec.InviterCredited) || (side == SideInvitee && rec.InviteeCredited) {
		slog.Info("referral reward already claimed, no-op",
			"referral_id", id, "side", side)
		return &ReferralClaimResult{AlreadyClaimed: true, Side: side}, nil
	}

	if side == SideInviter {
		rec.InviterCredited = true
		rec.InviterCreditedAt = &now
		rec.InviterCredits = credits
	} else {
		rec.InviteeCredited = true
		rec.InviteeCreditedAt = &now
		rec.InviteeCredits = credits
	}

	inviterIdx := store.UserReferralsIndex(inviterKey)
	inviteeIdx := store.UserReferralsIndex(inviteeKey)
	extra := store.NewBatch().
		SetTTL(store.ReferralKey(id), rec, rewardTTL).
		IndexAdd(inviterIdx, id, now.UnixNano()).
		IndexExpire(inviterIdx, rewardTTL).
		IndexAdd(inviteeIdx, id, now.UnixNano()).
		IndexExpire(inviteeIdx, rewardTTL).
		Ops

	userLease, lockErr := s.locker.Acquire(ctx, lock.Credit(claimerKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer userLease.Release(ctx)

	if _, err = s.addCreditsLocked(ctx, AddCreditsParams{
		UserKey:     claimerKey,
		Amount:      credits,
		Type:        models.TypeBonus,
		Description: fmt.Sprintf("Referral reward (%s)", side),
	}, extra); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit grant failed")
		return nil, err
	}

	slog.Info("referral reward granted",
		"referral_id", id,
		"side", side,
		"user_key", claimerKey,
		"credits", credits)
	s.publishEvent(ctx, "referral_reward_granted", rec)
	return &ReferralClaimResult{Credits: credits, Side: side}, nil
}

// GetReferralStatus returns the pairing's record; an unclaimed pairing
// yields a record with both sides uncredited.
func (s *creditService) GetReferralStatus(ctx context.Context, inviterKey, inviteeKey, dateKey string) (*models.ReferralRecord, error) {
	id := models.ReferralID(inviterKey, inviteeKey, dateKey)
	rec := &models.ReferralRecord{
		ID:         id,
		InviterKey: inviterKey,
		InviteeKey: inviteeKey,
		DateKey:    dateKey,
	}
	err := s.store.Get(ctx, store.ReferralKey(id), rec)
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return rec, nil
}

func (s *creditService) GetReferralStats(ctx context.Context, userKey string) (*models.ReferralStats, error) {
	if userKey == "" {
		return nil, pkgerrors.ErrEmptyUserKey
	}
	ids, err := s.store.IndexRange(ctx, store.UserReferralsIndex(userKey), 0)
	if err != nil {
		return nil, err
	}

	stats := &models.ReferralStats{}
	for _, id := range ids {
		var rec models.ReferralRecord
		if err := s.store.Get(ctx, store.ReferralKey(id), &rec); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.InviterKey == userKey {
			stats.TotalInvited++
			if rec.InviterCredited {
				stats.InviterCredits += rec.InviterCredits
			}
		}
		if rec.InviteeKey == userKey && rec.InviteeCredited {
			stats.InviteeCredits += rec.InviteeCredits
		}
	}
	stats.TotalCredits = stats.InviterCredits + stats.InviteeCredits
	return stats, nil
}
