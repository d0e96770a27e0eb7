package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/stellune/credits-service/internal/infrastructure/observability"
)

// publishEvent emits a ledger event, best-effort: failures are logged and
// never fail the operation that produced them.
func (s *creditService) publishEvent(ctx context.Context, kind string, payload any) {
	if s.events == nil {
		return
	}
	event := map[string]any{
		"event_type": kind,
		"payload":    payload,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "event_type", kind, "error", err)
		return
	}
	if err := s.events.Send(ctx, kind, raw); err != nil {
		slog.Error("failed to publish event", "event_type", kind, "error", err)
	}
}

func (s *creditService) observeOp(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.CreditOperations.WithLabelValues(operation, status).Inc()
}
