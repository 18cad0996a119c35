package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kode4food/ledger"
)

// CheckpointStore keeps checkpoints in the Store's checkpoints table
type CheckpointStore struct {
	store *Store
}

var _ ledger.CheckpointStore = (*CheckpointStore)(nil)

// Checkpoints returns a CheckpointStore sharing the Store's pool
func (s *Store) Checkpoints() *CheckpointStore {
	return &CheckpointStore{store: s}
}

func (c *CheckpointStore) LoadCheckpoint(
	ctx context.Context, name string,
) (ledger.GlobalPosition, bool, error) {
	var pos int64
	err := c.store.pool.QueryRow(ctx, c.store.q.loadCheckpoint, name).
		Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err := c.store.pool.Exec(ctx, c.store.q.saveCheckpoint,
		name, int64(pos),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %q: %w", name, err)
	}
	return nil
}

// Checkpoints lists every stored checkpoint in name order
func (c *CheckpointStore) Checkpoints(
	ctx context.Context,
) ([]ledger.Checkpoint, error) {
	rows, err := c.store.pool.Query(ctx, c.store.q.listCheckpoints)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return pgx.CollectRows(rows,
		func(row pgx.CollectableRow) (ledger.Checkpoint, error) {
			var cp ledger.Checkpoint
			var pos int64
			err := row.Scan(&cp.Name, &pos)
			cp.Position = ledger.GlobalPosition(pos)
			return cp, err
		},
	)
}
