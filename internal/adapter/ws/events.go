package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/orchestry/missiond/internal/domain/event"
)

// MissionStatusEvent is broadcast when a mission's status changes.
type MissionStatusEvent struct {
	MissionID string  `json:"mission_id"`
	Status    string  `json:"status"`
	Round     int     `json:"round"`
	CostUSD   float64 `json:"cost_usd"`
}

// BroadcastEvent marshals a typed payload and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Emit implements the event sink port: every audit event is mirrored to
// connected clients as-is.
func (h *Hub) Emit(ctx context.Context, ev *event.Event) {
	h.BroadcastEvent(ctx, string(ev.Type), ev)
}
