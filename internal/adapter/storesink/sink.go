// Package storesink persists audit events into the durable store.
package storesink

import (
	"context"
	"log/slog"

	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/port/database"
)

// Sink appends every event to the store's audit table. It is the
// durable leg of the event fanout; the mission events endpoint reads
// from what it writes.
type Sink struct {
	store database.Store
}

func New(store database.Store) *Sink {
	return &Sink{store: store}
}

// Emit implements eventsink.Sink. Failures are logged and dropped; the
// audit trail must never block mission progress.
func (s *Sink) Emit(ctx context.Context, ev *event.Event) {
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("append audit event failed", "type", ev.Type, "mission_id", ev.MissionID, "error", err)
	}
}
