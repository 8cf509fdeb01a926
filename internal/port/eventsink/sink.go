// Package eventsink defines the single structured event sink every
// reliability component emits into.
package eventsink

import (
	"context"

	"github.com/orchestry/missiond/internal/domain/event"
)

// Sink accepts audit events. Emit must not block mission progress on
// sink failure; adapters log and drop rather than propagate.
type Sink interface {
	Emit(ctx context.Context, ev *event.Event)
}

// Fanout forwards every event to all child sinks.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ctx context.Context, ev *event.Event) {
	for _, s := range f {
		s.Emit(ctx, ev)
	}
}
