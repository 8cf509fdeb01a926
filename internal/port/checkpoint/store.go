// Package checkpoint defines the port interface for durable mission checkpoints.
package checkpoint

import (
	"context"

	"github.com/orchestry/missiond/internal/domain/checkpoint"
)

// Store persists one checkpoint per mission ID.
//
// Save must be atomic with respect to process crash: a reader observes
// either the previous checkpoint or the new one, never a torn record.
// Load returns (nil, nil) when no checkpoint exists and wraps
// checkpoint.ErrCorrupt when one exists but cannot be parsed.
// Clear removes the checkpoint; it is called only on terminal success,
// aborted missions keep theirs for forensic inspection.
type Store interface {
	Save(ctx context.Context, cp *checkpoint.Checkpoint) error
	Load(ctx context.Context, missionID string) (*checkpoint.Checkpoint, error)
	Clear(ctx context.Context, missionID string) error
}
