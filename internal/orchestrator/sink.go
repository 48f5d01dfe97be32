package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// EventRelay forwards unit events to the log and the signal bus.
type EventRelay struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventRelay creates an EventRelay. bus may be nil.
func NewEventRelay(bus domain.SignalBus, logger *slog.Logger) *EventRelay {
	return &EventRelay{bus: bus, logger: logger.With(slog.String("component", "unit_events"))}
}

func (r *EventRelay) Emit(ev domain.UnitEvent) {
	attrs := []any{slog.String("kind", string(ev.Kind))}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.Profit != nil {
		attrs = append(attrs, slog.String("profit", ev.Profit.String()))
	}
	if ev.Venue != "" {
		attrs = append(attrs, slog.String("venue", string(ev.Venue)))
	}
	r.logger.Info("unit event", attrs...)

	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// Emit runs inside the unit's call; keep the publish short.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, domain.ChannelUnitEvents, payload); err != nil {
		r.logger.Debug("unit event publish failed", slog.String("error", err.Error()))
	}
}

var _ domain.EventSink = (*EventRelay)(nil)
