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

	"github.com/stellune/credits-service/internal/catalog"
	"github.com/stellune/credits-service/internal/lock"
	"github.com/stellune/credits-service/internal/models"
	"github.com/stellune/credits-service/internal/store"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// CreatePurchase records a pending order. Credits are resolved from the
// catalog now, not at completion; an unknown sku resolves to zero credits
// but the record is still written for audit. OrderID uniqueness belongs to
// the payment collaborator, so no lock is taken here.
func (s *creditService) CreatePurchase(ctx context.Context, orderID, userKey, sku string, amountPaid int64) (*models.PurchaseRecord, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "CreatePurchase")
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("sku", sku))
	defer span.End()

	var err error
	defer func() { s.observeOp("CreatePurchase", err) }()

	if orderID == "" || userKey == "" {
		err = fmt.Errorf("%w: order id and user key are required", pkgerrors.ErrInternal)
		return nil, err
	}

	var credits int64
	if p, ok := catalog.Product(sku); ok {
		credits = p.TotalCredits()
	} else {
		slog.Warn("unknown sku, creating zero-credit purchase", "order_id", orderID, "sku", sku)
	}

	now := time.Now().UTC()
	rec := &models.PurchaseRecord{
		OrderID:    orderID,
		UserKey:    userKey,
		SKU:        sku,
		Credits:    credits,
		AmountPaid: amountPaid,
		Status:     models.PurchasePending,
		CreatedAt:  now,
	}

	userIdx := store.UserPurchasesIndex(userKey)
	b := store.NewBatch().
		SetTTL(store.PurchaseKey(orderID), rec, purchaseTTL).
		IndexAdd(userIdx, orderID, now.UnixNano()).
		IndexExpire(userIdx, purchaseTTL).
		IndexAdd(store.PendingPurchasesIndex, orderID, now.UnixNano())
	if err = s.store.Apply(ctx, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purchase write failed")
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}

	slog.Info("purchase created",
		"order_id", orderID,
		"user_key", userKey,
		"sku", sku,
		"credits", credits)
	return rec, nil
}

// CompletePurchase is driven by payment confirmation and tolerates
// arbitrary repeats: the first call credits exactly once, every later call
// reports AlreadyCompleted without touching the balance.
//
// Lock ordering: the per-order lock is acquired before the per-user credit
// lock and must stay that way on every path that needs both.
func (s *creditService) CompletePurchase(ctx context.Context, orderID string) (*CompletePurchaseResult, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "CompletePurchase")
	span.SetAttributes(attribute.String("order_id", orderID))
	defer span.End()

	var err error
	defer func() { s.observeOp("CompletePurchase", err) }()

	orderLease, lockErr := s.locker.Acquire(ctx, lock.PurchaseComplete(orderID))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer orderLease.Release(ctx)

	var rec models.PurchaseRecord
	if err = s.store.Get(ctx, store.PurchaseKey(orderID), &rec); err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			err = pkgerrors.ErrPurchaseNotFound
			return nil, err
		}
		span.RecordError(err)
		return nil, err
	}

	switch rec.Status {
	case models.PurchaseCompleted:
		slog.Info("purchase already completed, no-op", "order_id", orderID)
		return &CompletePurchaseResult{Purchase: &rec, AlreadyCompleted: true}, nil
	case models.PurchaseRefunded:
		err = pkgerrors.ErrPurchaseRefunded
		return nil, err
	}

	now := time.Now().UTC()
	rec.Status = models.PurchaseCompleted
	rec.CompletedAt = &now

	purchaseOps := store.NewBatch().
		SetTTL(store.PurchaseKey(orderID), &rec, purchaseTTL).
		IndexRemove(store.PendingPurchasesIndex, orderID).
		Ops

	if rec.Credits > 0 {
		userLease, lockErr := s.locker.Acquire(ctx, lock.Credit(rec.UserKey))
		if lockErr != nil {
			err = lockErr
			span.RecordError(err)
			span.SetStatus(codes.Error, "lock acquisition failed")
			return nil, err
		}
		defer userLease.Release(ctx)

		// The status flip rides the same atomic batch as the balance and
		// ledger writes, so a crash cannot leave a pending-but-credited
		// order behind.
		_, err = s.addCreditsLocked(ctx, AddCreditsParams{
			UserKey:     rec.UserKey,
			Amount:      rec.Credits,
			Type:        models.TypePurchase,
			Description: fmt.Sprintf("Purchased %s", rec.SKU),
			OrderID:     rec.OrderID,
			SKU:         rec.SKU,
		}, purchaseOps)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "credit grant failed")
			return nil, err
		}
	} else {
		if err = s.store.Apply(ctx, &store.Batch{Ops: purchaseOps}); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to complete purchase: %w", err)
		}
	}

	slog.Info("purchase completed",
		"order_id", orderID,
		"user_key", rec.UserKey,
		"credits", rec.Credits)
	s.publishEvent(ctx, "purchase_completed", &rec)
	return &CompletePurchaseResult{Purchase: &rec, CreditsGranted: rec.Credits}, nil
}

// RefundPurchase marks a pending order refunded before any credits were
// granted. Completed orders cannot be refunded; there is no cash-back path.
func (s *creditService) RefundPurchase(ctx context.Context, orderID string) (*RefundPurchaseResult, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "RefundPurchase")
	span.SetAttributes(attribute.String("order_id", orderID))
	defer span.End()

	var err error
	defer func() { s.observeOp("RefundPurchase", err) }()

	lease, lockErr := s.locker.Acquire(ctx, lock.PurchaseComplete(orderID))
	if lockErr != nil {
		err = lockErr
		return nil, err
	}
	defer lease.Release(ctx)

	var rec models.PurchaseRecord
	if err = s.store.Get(ctx, store.PurchaseKey(orderID), &rec); err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			err = pkgerrors.ErrPurchaseNotFound
		}
		return nil, err
	}

	switch rec.Status {
	case models.PurchaseRefunded:
		return &RefundPurchaseResult{Purchase: &rec, AlreadyRefunded: true}, nil
	case models.PurchaseCompleted:
		err = pkgerrors.ErrPurchaseCompleted
		return nil, err
	}

	rec.Status = models.PurchaseRefunded
	b := store.NewBatch().
		SetTTL(store.PurchaseKey(orderID), &rec, purchaseTTL).
		IndexRemove(store.PendingPurchasesIndex, orderID)
	if err = s.store.Apply(ctx, b); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to refund purchase: %w", err)
	}

	slog.Info("purchase refunded", "order_id", orderID, "user_key", rec.UserKey)
	s.publishEvent(ctx, "purchase_refunded", &rec)
	return &RefundPurchaseResult{Purchase: &rec}, nil
}

func (s *creditService) GetPurchase(ctx context.Context, orderID string) (*models.PurchaseRecord, error) {
	var rec models.PurchaseRecord
	if err := s.store.Get(ctx, store.PurchaseKey(orderID), &rec); err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, pkgerrors.ErrPurchaseNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *creditService) GetUserPurchases(ctx context.Context, userKey string) ([]models.PurchaseRecord, error) {
	if userKey == "" {
		return nil, pkgerrors.ErrEmptyUserKey
	}
	ids, err := s.store.IndexRange(ctx, store.UserPurchasesIndex(userKey), 0)
	if err != nil {
		return nil, err
	}
	return s.purchasesByID(ctx, ids, "")
}

func (s *creditService) GetPendingPurchases(ctx context.Context) ([]models.PurchaseRecord, error) {
	ids, err := s.store.IndexRange(ctx, store.PendingPurchasesIndex, 0)
	if err != nil {
		return nil, err
	}
	return s.purchasesByID(ctx, ids, models.PurchasePending)
}

func (s *creditService) purchasesByID(ctx context.Context, ids []string, onlyStatus models.PurchaseStatus) ([]models.PurchaseRecord, error) {
	out := make([]models.PurchaseRecord, 0, len(ids))
	for _, id := range ids {
		var rec models.PurchaseRecord
		if err := s.store.Get(ctx, store.PurchaseKey(id), &rec); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if onlyStatus != "" && rec.Status != onlyStatus {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
