package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/ledger"
)

// CheckpointStore keeps every subscription's checkpoint in a single hash
type CheckpointStore struct {
	client *redis.Client
	key    string
}

var _ ledger.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates a CheckpointStore under the given key prefix
func NewCheckpointStore(client *redis.Client, prefix string) *CheckpointStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CheckpointStore{
		client: client,
		key:    prefix + checkpointKey,
	}
}

// Checkpoints returns a CheckpointStore sharing the Store's client and
// prefix
func (s *Store) Checkpoints() *CheckpointStore {
	return NewCheckpointStore(s.client, s.prefix)
}

func (c *CheckpointStore) LoadCheckpoint(
	ctx context.Context, name string,
) (ledger.GlobalPosition, bool, error) {
	pos, err := c.client.HGet(ctx, c.key, name).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %q: %w", name, err)
	}
	return ledger.GlobalPosition(pos), true, nil
}

func (c *CheckpointStore) SaveCheckpoint(
	ctx context.Context, name string, pos ledger.GlobalPosition,
) error {
	err := c.client.HSet(ctx, c.key, name, uint64(pos)).Err()
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", name, err)
	}
	return nil
}
