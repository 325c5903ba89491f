package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/finchmarket/offers/internal/offers"
)

// Emitter adapts the Dispatcher to the negotiation engine's event sink.
// Emit is fire-and-forget: delivery failures are logged, never surfaced to
// the negotiation path.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) Emit(_ context.Context, event *offers.Event) {
	if e == nil || e.d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, event); err != nil {
		e.logger.Warn("webhook dispatch failed", "event", event.Type, "offerId", event.OfferID, "error", err)
	}
}

var _ offers.Emitter = (*Emitter)(nil)
