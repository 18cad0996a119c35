package bolt

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/kode4food/ledger"
)

// CheckpointStore keeps checkpoints in the Store's database file
type CheckpointStore struct {
	db *bolt.DB
}

var _ ledger.CheckpointStore = (*CheckpointStore)(nil)

// Checkpoints returns a CheckpointStore sharing the Store's file
func (s *Store) Checkpoints() *CheckpointStore {
	return &CheckpointStore{db: s.db}
}

func (c *CheckpointStore) LoadCheckpoint(
	_ context.Context, name string,
) (ledger.GlobalPosition, bool, error) {
	var pos ledger.GlobalPosition
	var ok bool
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCheckpoints).Get([]byte(name))
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return ErrCorruptEntry
		}
		pos, ok = ledger.GlobalPosition(decodeKey(v)), true
		return nil
	})
	return pos, ok, err
}

func (c *CheckpointStore) SaveCheckpoint(
	_ context.Context, name string, pos ledger.GlobalPosition,
) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put(
			[]byte(name), encodeKey(uint64(pos)),
		)
	})
}

// Checkpoints lists every stored checkpoint in name order
func (c *CheckpointStore) Checkpoints() ([]ledger.Checkpoint, error) {
	var res []ledger.Checkpoint
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return ErrCorruptEntry
			}
			res = append(res, ledger.Checkpoint{
				Name:     string(k),
				Position: ledger.GlobalPosition(decodeKey(v)),
			})
			return nil
		})
	})
	return res, err
}
