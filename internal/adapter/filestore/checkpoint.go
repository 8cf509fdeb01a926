// Package filestore implements the checkpoint port on the local
// filesystem: one JSON file per mission, replaced atomically.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orchestry/missiond/internal/domain/checkpoint"
)

// Store writes checkpoints under a root directory as <mission-id>.json.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Save writes the checkpoint to a temp file in the same directory, syncs
// it, then renames it over the canonical path. The rename is the commit
// point: a crash before it leaves the previous checkpoint untouched, a
// crash after it leaves the new one fully in place.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("validate checkpoint: %w", err)
	}
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	final := s.path(cp.MissionID)
	tmp, err := os.CreateTemp(s.root, "."+sanitize(cp.MissionID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint for a mission. A missing file means a fresh
// mission and returns (nil, nil); an unparseable file fails loudly with
// checkpoint.ErrCorrupt.
func (s *Store) Load(ctx context.Context, missionID string) (*checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(missionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", missionID, err)
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w: %w", missionID, checkpoint.ErrCorrupt, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w: %w", missionID, checkpoint.ErrCorrupt, err)
	}
	return &cp, nil
}

// Clear removes the checkpoint. Absence is not an error.
func (s *Store) Clear(ctx context.Context, missionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(missionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint %s: %w", missionID, err)
	}
	return nil
}

func (s *Store) path(missionID string) string {
	return filepath.Join(s.root, sanitize(missionID)+".json")
}

// sanitize keeps mission IDs path-safe. IDs are UUIDs in practice; this
// guards the store against a caller handing it a hostile string.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
