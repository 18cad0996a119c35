package memory

import (
	"context"
	"sync"

	"github.com/kode4food/ledger"
)

// CheckpointStore keeps checkpoints in memory
type CheckpointStore struct {
	positions map[string]ledger.GlobalPosition
	mu        sync.RWMutex
}

var _ ledger.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates an empty CheckpointStore
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		positions: map[string]ledger.GlobalPosition{},
	}
}

func (c *CheckpointStore) LoadCheckpoint(
	_ context.Context, name string,
) (ledger.GlobalPosition, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.positions[name]
	return pos, ok, nil
}

func (c *CheckpointStore) SaveCheckpoint(
	_ context.Context, name string, pos ledger.GlobalPosition,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[name] = pos
	return nil
}

// Checkpoints returns a copy of every stored checkpoint
func (c *CheckpointStore) Checkpoints() []ledger.Checkpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]ledger.Checkpoint, 0, len(c.positions))
	for name, pos := range c.positions {
		res = append(res, ledger.Checkpoint{Name: name, Position: pos})
	}
	return res
}
