// Package collaborator defines the port for the external language-model
// call. The run loop treats it purely as an injectable dependency; test
// doubles substitute for it without touching controller logic.
package collaborator

import (
	"context"
	"errors"

	"github.com/orchestry/missiond/internal/domain/mission"
)

// ErrTimeout signals that the collaborator timed out. It is distinct
// from other errors: the calling layer's fallback-model policy keys off
// it, and the run loop classifies it as a timeout outcome rather than a
// fatal error.
var ErrTimeout = errors.New("collaborator timed out")

// Request describes one call.
type Request struct {
	MissionID      string
	Role           mission.Role
	Prompt         string
	Feedback       []string // reviewer feedback carried verbatim into the next round
	ModelHint      string
	MaxCostUSD     float64
	EstimateTokens int64
}

// Response is the structured result of one call.
type Response struct {
	Outcome   mission.Outcome // set by the supervisor role; others leave it empty
	Content   string
	Feedback  []string // populated on needs_changes
	Artifacts []string
	Model     string
	TokensIn  int64
	TokensOut int64
}

// Client performs language-model calls.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
