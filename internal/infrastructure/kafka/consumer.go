package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	service "github.com/stellune/credits-service/internal/services"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// purchaseLifecycle is the slice of the credit service the consumer needs.
type purchaseLifecycle interface {
	CompletePurchase(ctx context.Context, orderID string) (*service.CompletePurchaseResult, error)
	RefundPurchase(ctx context.Context, orderID string) (*service.RefundPurchaseResult, error)
}

// Consumer applies payment confirmations. Offsets are committed only after a
// message is handled or terminally rejected, so a confirmation that hit a
// transient failure is retried in place and redelivered after a crash
// instead of being dropped. At-least-once delivery is safe because
// CompletePurchase and RefundPurchase are idempotent.
type Consumer struct {
	reader     *kafka.Reader
	service    purchaseLifecycle
	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, svc purchaseLifecycle) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		service:    svc,
		retryDelay: time.Second,
	}
}

type paymentEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to fetch Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event paymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal payment event", "error", err)
			c.commit(ctx, msg)
			continue
		}
		if event.OrderID == "" {
			slog.Error("payment event without order_id", "value", string(msg.Value))
			c.commit(ctx, msg)
			continue
		}

		if !c.handle(ctx, event) {
			// ctx canceled mid-retry; the offset stays uncommitted so the
			// confirmation is redelivered to the next consumer
			return
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		slog.Error("failed to commit offset", "topic", c.reader.Config().Topic, "error", err)
	}
}

// handle applies one confirmation, retrying with a fixed delay until it
// either succeeds or is terminally rejected. Returns false only when ctx
// ends first.
func (c *Consumer) handle(ctx context.Context, event paymentEvent) bool {
	for {
		err := c.dispatch(ctx, event)
		if err == nil {
			return true
		}
		if !pkgerrors.Retryable(err) {
			slog.Error("failed to apply payment event, retrying",
				"order_id", event.OrderID, "status", event.Status, "error", err)
		} else {
			slog.Warn("transient failure applying payment event, retrying",
				"order_id", event.OrderID, "status", event.Status, "error", err)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}

// dispatch applies the event once. Terminal rejections are logged and
// swallowed: the order is in a state this confirmation can never change.
func (c *Consumer) dispatch(ctx context.Context, event paymentEvent) error {
	switch event.Status {
	case "confirmed":
		res, err := c.service.CompletePurchase(ctx, event.OrderID)
		if err != nil {
			if stderrors.Is(err, pkgerrors.ErrPurchaseNotFound) || stderrors.Is(err, pkgerrors.ErrPurchaseRefunded) {
				slog.Warn("payment confirmation rejected", "order_id", event.OrderID, "error", err)
				return nil
			}
			return err
		}
		if res.AlreadyCompleted {
			slog.Info("duplicate payment confirmation ignored", "order_id", event.OrderID)
		}
		return nil
	case "failed", "cancelled":
		res, err := c.service.RefundPurchase(ctx, event.OrderID)
		if err != nil {
			if stderrors.Is(err, pkgerrors.ErrPurchaseNotFound) || stderrors.Is(err, pkgerrors.ErrPurchaseCompleted) {
				slog.Warn("payment failure rejected", "order_id", event.OrderID, "error", err)
				return nil
			}
			return err
		}
		if res.AlreadyRefunded {
			slog.Info("duplicate payment failure ignored", "order_id", event.OrderID)
		}
		return nil
	default:
		slog.Warn("unknown payment status", "order_id", event.OrderID, "status", event.Status)
		return nil
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
