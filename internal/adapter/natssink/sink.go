// Package natssink publishes audit events to NATS JetStream so external
// consumers (dashboards, alerting) can follow mission progress without
// polling the store.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/orchestry/missiond/internal/domain/event"
)

const streamName = "MISSIOND"

// Sink implements eventsink.Sink over a JetStream stream. Subjects are
// derived from the event type: mission.started for mission m-1 becomes
// missions.m-1.started.
type Sink struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and ensures the audit stream exists.
func Connect(ctx context.Context, url string) (*Sink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"missions.>", "approvals.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats event sink connected", "url", url, "stream", streamName)
	return &Sink{nc: nc, js: js}, nil
}

// Emit publishes the event. Failures are logged and dropped; the audit
// store, not the stream, is the durable record.
func (s *Sink) Emit(ctx context.Context, ev *event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event failed", "event_id", ev.ID, "error", err)
		return
	}
	subject := subjectFor(ev)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		slog.Error("event publish failed", "subject", subject, "error", err)
	}
}

// Close shuts down the NATS connection.
func (s *Sink) Close() error {
	s.nc.Close()
	return nil
}

func subjectFor(ev *event.Event) string {
	kind := string(ev.Type)
	switch {
	case strings.HasPrefix(kind, "approval."):
		return "approvals." + sanitizeToken(ev.RequestID) + "." + strings.TrimPrefix(kind, "approval.")
	default:
		return "missions." + sanitizeToken(ev.MissionID) + "." + strings.TrimPrefix(kind, "mission.")
	}
}

// sanitizeToken keeps IDs legal as NATS subject tokens.
func sanitizeToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, id)
}
