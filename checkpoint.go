package ledger

import (
	"context"
	"time"
)

type (
	// Checkpoint is the last global position a subscription has fully
	// processed
	Checkpoint struct {
		Name     string
		Position GlobalPosition
	}

	// Checkpointer is the pair of hooks a Subscription uses to resume. A
	// missing checkpoint is reported with false and means start of log
	Checkpointer interface {
		LoadCheckpoint(context.Context) (GlobalPosition, bool, error)
		SaveCheckpoint(context.Context, GlobalPosition) error
	}

	// CheckpointStore persists checkpoints for any number of named
	// subscriptions
	CheckpointStore interface {
		LoadCheckpoint(
			ctx context.Context, name string,
		) (GlobalPosition, bool, error)
		SaveCheckpoint(
			ctx context.Context, name string, pos GlobalPosition,
		) error
	}

	// CheckpointPolicy decides whether a checkpoint is due, given the number
	// of events processed since the last save and the time elapsed since
	// then. It is consulted after each processed event and on the
	// subscription's idle tick
	CheckpointPolicy func(pending int, elapsed time.Duration) bool

	namedCheckpointer struct {
		store CheckpointStore
		name  string
	}
)

// NewCheckpointer binds a CheckpointStore to a single subscription name
func NewCheckpointer(name string, store CheckpointStore) Checkpointer {
	return &namedCheckpointer{
		store: store,
		name:  name,
	}
}

func (c *namedCheckpointer) LoadCheckpoint(
	ctx context.Context,
) (GlobalPosition, bool, error) {
	return c.store.LoadCheckpoint(ctx, c.name)
}

func (c *namedCheckpointer) SaveCheckpoint(
	ctx context.Context, pos GlobalPosition,
) error {
	return c.store.SaveCheckpoint(ctx, c.name, pos)
}

// EveryEvent saves after each processed event
func EveryEvent() CheckpointPolicy {
	return EveryN(1)
}

// EveryN saves once n events have been processed since the last save
func EveryN(n int) CheckpointPolicy {
	n = max(n, 1)
	return func(pending int, _ time.Duration) bool {
		return pending >= n
	}
}

// EveryInterval saves once d has elapsed since the last save
func EveryInterval(d time.Duration) CheckpointPolicy {
	return func(pending int, elapsed time.Duration) bool {
		return pending > 0 && elapsed >= d
	}
}

// AnyOf saves when any of the policies says a save is due
func AnyOf(policies ...CheckpointPolicy) CheckpointPolicy {
	return func(pending int, elapsed time.Duration) bool {
		for _, p := range policies {
			if p(pending, elapsed) {
				return true
			}
		}
		return false
	}
}
