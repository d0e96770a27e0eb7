package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	service "github.com/stellune/credits-service/internal/services"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// lifecycleStub fails CompletePurchase a configured number of times before
// succeeding, recording every call.
type lifecycleStub struct {
	mu            sync.Mutex
	completeFails int
	completeErr   error
	completeCalls []string
	refundCalls   []string
	refundErr     error
}

func (s *lifecycleStub) CompletePurchase(ctx context.Context, orderID string) (*service.CompletePurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCalls = append(s.completeCalls, orderID)
	if s.completeFails > 0 {
		s.completeFails--
		return nil, s.completeErr
	}
	return &service.CompletePurchaseResult{CreditsGranted: 10}, nil
}

func (s *lifecycleStub) RefundPurchase(ctx context.Context, orderID string) (*service.RefundPurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundCalls = append(s.refundCalls, orderID)
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &service.RefundPurchaseResult{}, nil
}

func newTestConsumer(stub *lifecycleStub) *Consumer {
	return &Consumer{service: stub, retryDelay: time.Millisecond}
}

func TestHandle_RetriesTransientFailureUntilCompleted(t *testing.T) {
	stub := &lifecycleStub{completeFails: 1, completeErr: pkgerrors.ErrLockTimeout}
	c := newTestConsumer(stub)

	done := c.handle(context.Background(), paymentEvent{OrderID: "o1", Status: "confirmed"})

	assert.True(t, done, "the confirmation must eventually land")
	require.Len(t, stub.completeCalls, 2, "one failed attempt plus the successful retry")
	assert.Equal(t, []string{"o1", "o1"}, stub.completeCalls)
}

func TestHandle_TerminalRejectionIsNotRetried(t *testing.T) {
	stub := &lifecycleStub{completeFails: 100, completeErr: pkgerrors.ErrPurchaseRefunded}
	c := newTestConsumer(stub)

	done := c.handle(context.Background(), paymentEvent{OrderID: "o1", Status: "confirmed"})

	assert.True(t, done)
	assert.Len(t, stub.completeCalls, 1, "a refunded order can never be confirmed, no retry")
}

func TestHandle_ContextCancellationStopsRetrying(t *testing.T) {
	stub := &lifecycleStub{completeFails: 1000, completeErr: pkgerrors.ErrLockTimeout}
	c := newTestConsumer(stub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := c.handle(ctx, paymentEvent{OrderID: "o1", Status: "confirmed"})
	assert.False(t, done, "an unhandled confirmation must not be committed")
}

func TestHandle_FailedPaymentRefunds(t *testing.T) {
	stub := &lifecycleStub{}
	c := newTestConsumer(stub)

	done := c.handle(context.Background(), paymentEvent{OrderID: "o1", Status: "failed"})
	assert.True(t, done)
	assert.Equal(t, []string{"o1"}, stub.refundCalls)
	assert.Empty(t, stub.completeCalls)
}

func TestHandle_RefundOfCompletedOrderIsTerminal(t *testing.T) {
	stub := &lifecycleStub{refundErr: pkgerrors.ErrPurchaseCompleted}
	c := newTestConsumer(stub)

	done := c.handle(context.Background(), paymentEvent{OrderID: "o1", Status: "cancelled"})
	assert.True(t, done)
	assert.Len(t, stub.refundCalls, 1)
}

func TestHandle_UnknownStatusIsDropped(t *testing.T) {
	stub := &lifecycleStub{}
	c := newTestConsumer(stub)

	done := c.handle(context.Background(), paymentEvent{OrderID: "o1", Status: "pending"})
	assert.True(t, done)
	assert.Empty(t, stub.completeCalls)
	assert.Empty(t, stub.refundCalls)
}
