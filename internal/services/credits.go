package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/stellune/credits-service/internal/lock"
	"github.com/stellune/credits-service/internal/models"
	"github.com/stellune/credits-service/internal/store"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// GetBalance returns the user's balance, materializing a zero-value record
// on first access. Creation happens under the per-user credit lock so
// concurrent first reads cannot race.
func (s *creditService) GetBalance(ctx context.Context, userKey string) (*models.CreditBalance, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	var err error
	defer func() { s.observeOp("GetBalance", err) }()

	if userKey == "" {
		err = pkgerrors.ErrEmptyUserKey
		return nil, err
	}

	bal, getErr := s.tryGetBalance(ctx, userKey)
	if getErr == nil {
		return bal, nil
	}
	if !stderrors.Is(getErr, store.ErrNotFound) {
		err = getErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance read failed")
		return nil, err
	}

	lease, lockErr := s.locker.Acquire(ctx, lock.Credit(userKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer lease.Release(ctx)

	bal, err = s.getOrCreateBalanceLocked(ctx, userKey)
	return bal, err
}

// tryGetBalance is a pure read with no side effect.
func (s *creditService) tryGetBalance(ctx context.Context, userKey string) (*models.CreditBalance, error) {
	var bal models.CreditBalance
	if err := s.store.Get(ctx, store.BalanceKey(userKey), &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// getOrCreateBalanceLocked must run under the user's credit lock: it
// re-reads first, so a record created by a concurrent caller is never
// overwritten.
func (s *creditService) getOrCreateBalanceLocked(ctx context.Context, userKey string) (*models.CreditBalance, error) {
	bal, err := s.tryGetBalance(ctx, userKey)
	if err == nil {
		return bal, nil
	}
	if !stderrors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	bal = &models.CreditBalance{
		UserKey:     userKey,
		LastUpdated: time.Now().UTC(),
	}
	if err := s.store.Set(ctx, store.BalanceKey(userKey), bal); err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}
	slog.Info("balance created", "user_key", userKey)
	return bal, nil
}

// HasEnoughCredits is a pure read; a missing balance counts as zero and a
// zero amount is always affordable.
func (s *creditService) HasEnoughCredits(ctx context.Context, userKey string, amount int64) (bool, error) {
	if userKey == "" {
		return false, pkgerrors.ErrEmptyUserKey
	}
	if amount < 0 {
		return false, pkgerrors.ErrInvalidAmount
	}
	if amount == 0 {
		return true, nil
	}

	bal, err := s.tryGetBalance(ctx, userKey)
	if stderrors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bal.Credits >= amount, nil
}

func (s *creditService) AddCredits(ctx context.Context, p AddCreditsParams) (*models.CreditTransaction, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "AddCredits")
	defer span.End()

	var err error
	defer func() { s.observeOp("AddCredits", err) }()

	if p.UserKey == "" {
		err = pkgerrors.ErrEmptyUserKey
		return nil, err
	}
	if p.Amount <= 0 {
		err = pkgerrors.ErrInvalidAmount
		return nil, err
	}
	if !models.ValidTransactionType(p.Type) || p.Type == models.TypeUse {
		err = fmt.Errorf("%w: invalid credit type %q", pkgerrors.ErrInternal, p.Type)
		return nil, err
	}

	lease, lockErr := s.locker.Acquire(ctx, lock.Credit(p.UserKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer lease.Release(ctx)

	tx, err := s.addCreditsLocked(ctx, p, nil)
	return tx, err
}

// addCreditsLocked performs the re-read, the balance increment and the
// ledger append as one store batch. extra ops join the same atomic unit.
// The caller must hold the user's credit lock.
func (s *creditService) addCreditsLocked(ctx context.Context, p AddCreditsParams, extra []store.Op) (*models.CreditTransaction, error) {
	bal, err := s.getOrCreateBalanceLocked(ctx, p.UserKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bal.Credits += p.Amount
	if p.Type == models.TypePurchase {
		bal.TotalPurchased += p.Amount
	}
	bal.LastUpdated = now

	tx := &models.CreditTransaction{
		ID:          uuid.NewString(),
		UserKey:     p.UserKey,
		Type:        p.Type,
		Amount:      p.Amount,
		Balance:     bal.Credits,
		Description: p.Description,
		OrderID:     p.OrderID,
		SKU:         p.SKU,
		CreatedAt:   now,
	}

	if err := s.applyLedgerWrite(ctx, bal, tx, extra); err != nil {
		return nil, err
	}

	slog.Info("credits added",
		"user_key", p.UserKey,
		"amount", p.Amount,
		"type", p.Type,
		"balance", bal.Credits)
	s.publishEvent(ctx, "transaction", tx)
	return tx, nil
}

func (s *creditService) UseCredits(ctx context.Context, userKey string, amount int64, description string) (*models.CreditTransaction, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "UseCredits")
	defer span.End()

	var err error
	defer func() { s.observeOp("UseCredits", err) }()

	if userKey == "" {
		err = pkgerrors.ErrEmptyUserKey
		return nil, err
	}
	if amount <= 0 {
		err = pkgerrors.ErrInvalidAmount
		return nil, err
	}

	lease, lockErr := s.locker.Acquire(ctx, lock.Credit(userKey))
	if lockErr != nil {
		err = lockErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer lease.Release(ctx)

	// Check-then-act stays inside the lock; a pre-lock balance read would
	// allow concurrent overdraft.
	bal, balErr := s.tryGetBalance(ctx, userKey)
	if stderrors.Is(balErr, store.ErrNotFound) {
		err = pkgerrors.ErrInsufficientCredits
		return nil, err
	}
	if balErr != nil {
		err = balErr
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance read failed")
		return nil, err
	}
	if bal.Credits < amount {
		err = pkgerrors.ErrInsufficientCredits
		slog.Warn("insufficient credits",
			"user_key", userKey,
			"balance", bal.Credits,
			"amount", amount)
		return nil, err
	}

	now := time.Now().UTC()
	bal.Credits -= amount
	bal.TotalUsed += amount
	bal.LastUpdated = now

	tx := &models.CreditTransaction{
		ID:          uuid.NewString(),
		UserKey:     userKey,
		Type:        models.TypeUse,
		Amount:      -amount,
		Balance:     bal.Credits,
		Description: description,
		CreatedAt:   now,
	}

	if err = s.applyLedgerWrite(ctx, bal, tx, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger write failed")
		return nil, err
	}

	slog.Info("credits used",
		"user_key", userKey,
		"amount", amount,
		"balance", bal.Credits)
	s.publishEvent(ctx, "transaction", tx)
	return tx, nil
}

// applyLedgerWrite commits the balance record and the transaction append as
// one batch, with history retention trimming. Atomic on the distributed
// backends; the file backend writes the ledger table first.
func (s *creditService) applyLedgerWrite(ctx context.Context, bal *models.CreditBalance, tx *models.CreditTransaction, extra []store.Op) error {
	idx := store.UserTransactionsIndex(tx.UserKey)
	b := store.NewBatch().
		SetTTL(store.TransactionKey(tx.ID), tx, transactionTTL).
		IndexAdd(idx, tx.ID, tx.CreatedAt.UnixNano()).
		IndexTrim(idx, transactionRetention).
		IndexExpire(idx, transactionTTL).
		Set(store.BalanceKey(bal.UserKey), bal)
	b.Ops = append(b.Ops, extra...)
	if err := s.store.Apply(ctx, b); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}

func (s *creditService) GetTransactionHistory(ctx context.Context, userKey string, limit int) ([]models.CreditTransaction, error) {
	tracer := otel.Tracer("credit-service")
	ctx, span := tracer.Start(ctx, "GetTransactionHistory")
	defer span.End()

	var err error
	defer func() { s.observeOp("GetTransactionHistory", err) }()

	if userKey == "" {
		err = pkgerrors.ErrEmptyUserKey
		return nil, err
	}

	ids, err := s.store.IndexRange(ctx, store.UserTransactionsIndex(userKey), limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	txs := make([]models.CreditTransaction, 0, len(ids))
	for _, id := range ids {
		var tx models.CreditTransaction
		if getErr := s.store.Get(ctx, store.TransactionKey(id), &tx); getErr != nil {
			if stderrors.Is(getErr, store.ErrNotFound) {
				continue // expired entry still referenced by the index
			}
			err = getErr
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
