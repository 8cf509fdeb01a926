// Package natskv implements the checkpoint store port on a NATS
// JetStream KeyValue bucket, for deployments that already run NATS and
// want crash recovery to survive the loss of local disk.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/orchestry/missiond/internal/domain/checkpoint"
)

// Store implements checkpoint.Store on a JetStream KV bucket keyed by
// mission ID. KV puts are atomic per key, which gives the same
// no-torn-state guarantee the file backend gets from rename.
type Store struct {
	kv jetstream.KeyValue
}

// Connect dials NATS and ensures the checkpoint bucket exists.
func Connect(ctx context.Context, url, bucket string) (*Store, *nats.Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream kv bucket %s: %w", bucket, err)
	}
	return &Store{kv: kv}, nc, nil
}

// New wraps an existing KV bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", cp.MissionID, err)
	}
	if _, err := s.kv.Put(ctx, cp.MissionID, data); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", cp.MissionID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, missionID string) (*checkpoint.Checkpoint, error) {
	entry, err := s.kv.Get(ctx, missionID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", missionID, err)
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(entry.Value(), &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w: %w", missionID, checkpoint.ErrCorrupt, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w: %w", missionID, checkpoint.ErrCorrupt, err)
	}
	return &cp, nil
}

func (s *Store) Clear(ctx context.Context, missionID string) error {
	err := s.kv.Delete(ctx, missionID)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete checkpoint %s: %w", missionID, err)
	}
	return nil
}
