package memory_test

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/memory"
)

var fixedTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

func newStore(t *testing.T, buffer int) *memory.Store {
	t.Helper()
	return memory.NewStore(memory.Config{
		Logger:     zaptest.NewLogger(t),
		Clock:      func() time.Time { return fixedTime },
		LiveBuffer: buffer,
	})
}

func events(names ...string) []*ledger.WriteEnvelope {
	res := make([]*ledger.WriteEnvelope, 0, len(names))
	for _, name := range names {
		res = append(res, ledger.NewWriteEnvelope(name, []byte(`{}`), nil))
	}
	return res
}

func collect(
	t *testing.T, seq iter.Seq2[*ledger.ReadEnvelope, error],
) []*ledger.ReadEnvelope {
	t.Helper()
	var res []*ledger.ReadEnvelope
	for env, err := range seq {
		assert.NoError(t, err)
		if err != nil {
			break
		}
		res = append(res, env)
	}
	return res
}

func TestAppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	res, err := s.Append(ctx, "a", ledger.NoStream(), events("x", "y"))
	assert.NoError(t, err)
	assert.Equal(t, &ledger.AppendResult{
		StreamID:      "a",
		FirstVersion:  0,
		LastVersion:   1,
		FirstPosition: 1,
		LastPosition:  2,
	}, res)

	res, err = s.Append(ctx, "b", ledger.Any(), events("z"))
	assert.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(3), res.LastPosition)
	assert.Equal(t, ledger.Zero, res.LastVersion)

	res, err = s.Append(ctx, "a", ledger.Exact(1), events("w"))
	assert.NoError(t, err)
	assert.Equal(t, ledger.StreamVersion(2), res.LastVersion)

	got := collect(t, s.ReadStream(ctx, "a", ledger.ReadForward()))
	assert.Len(t, got, 3)
	assert.Equal(t, "x", got[0].Name)
	assert.Equal(t, ledger.GlobalPosition(4), got[2].Position)
	assert.Equal(t, time.UTC, got[0].RecordedAt.Location())
	assert.False(t, got[0].HasMetadata())

	back := collect(t, s.ReadStream(ctx, "a", ledger.ReadBackward()))
	assert.Equal(t, "w", back[0].Name)

	log := collect(t, s.ReadLog(ctx, 2, true))
	assert.Len(t, log, 2)
	assert.Equal(t, ledger.StreamID("b"), log[0].StreamID)

	head, ok, err := s.Head(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.GlobalPosition(4), head)
}

func TestAppendConflicts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	_, err := s.Append(ctx, "a", ledger.Exact(0), events("x"))
	assert.ErrorIs(t, err, ledger.ErrWrongExpectedVersion)

	_, err = s.Append(ctx, "a", ledger.NoStream(), events("x"))
	assert.NoError(t, err)

	_, err = s.Append(ctx, "a", ledger.NoStream(), events("y"))
	var wev *ledger.WrongExpectedVersionError
	assert.ErrorAs(t, err, &wev)
	assert.True(t, wev.Exists)

	_, err = s.Append(ctx, "a", ledger.Exact(3), events("y"))
	assert.ErrorIs(t, err, ledger.ErrWrongExpectedVersion)

	_, err = s.Append(ctx, "", ledger.Any(), events("y"))
	assert.ErrorIs(t, err, ledger.ErrEmptyStreamID)

	_, err = s.Append(ctx, "a", ledger.Any(), nil)
	assert.ErrorIs(t, err, ledger.ErrNoEvents)

	got := collect(t, s.ReadLog(ctx, 0, false))
	assert.Len(t, got, 1)
}

func TestAppendCopiesPayload(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	ev := ledger.NewWriteEnvelope("x", []byte(`{"a":1}`), []byte(`{"m":1}`))
	_, err := s.Append(ctx, "a", ledger.Any(), []*ledger.WriteEnvelope{ev})
	assert.NoError(t, err)
	ev.Payload[2] = 'b'

	got := collect(t, s.ReadStream(ctx, "a", ledger.ReadForward()))
	assert.Equal(t, `{"a":1}`, string(got[0].Payload))
	assert.Equal(t, `{"m":1}`, string(got[0].Metadata))
	assert.Equal(t, ev.ID, got[0].ID)
}

func TestReadMissingStream(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	for _, err := range s.ReadStream(ctx, "nope", ledger.ReadForward()) {
		assert.ErrorIs(t, err, ledger.ErrStreamNotFound)
	}

	_, ok, err := s.Head(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestLiveReplaysThenTails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStore(t, 0)

	_, err := s.Append(ctx, "a", ledger.Any(), events("x", "y", "z"))
	assert.NoError(t, err)

	next, stop := iter.Pull2(s.Live(ctx, 1, true))
	defer stop()

	env, err, ok := next()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(2), env.Position)

	env, _, _ = next()
	assert.Equal(t, ledger.GlobalPosition(3), env.Position)

	_, err = s.Append(ctx, "b", ledger.Any(), events("w"))
	assert.NoError(t, err)

	env, err, ok = next()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(4), env.Position)
	assert.Equal(t, ledger.StreamID("b"), env.StreamID)
}

func TestLiveOverflowFallsBehind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 2)

	next, stop := iter.Pull2(s.Live(ctx, 0, false))
	defer stop()

	_, err := s.Append(ctx, "a", ledger.Any(), events("x"))
	assert.NoError(t, err)
	env, err, ok := next()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(1), env.Position)

	_, err = s.Append(ctx, "a", ledger.Any(), events("x", "y"))
	assert.NoError(t, err)

	var pos []ledger.GlobalPosition
	for range 2 {
		env, err, ok := next()
		assert.True(t, ok)
		assert.NoError(t, err)
		pos = append(pos, env.Position)
	}
	assert.Equal(t, []ledger.GlobalPosition{2, 3}, pos)

	_, err = s.Append(ctx, "a", ledger.Any(), events("x", "y", "z"))
	assert.NoError(t, err)
	_, err, ok = next()
	assert.True(t, ok)
	assert.ErrorIs(t, err, ledger.ErrFellBehind)
}

func TestLiveFansOutToEverySubscriber(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 2)

	fast, stopFast := iter.Pull2(s.Live(ctx, 0, false))
	defer stopFast()
	slow, stopSlow := iter.Pull2(s.Live(ctx, 0, false))
	defer stopSlow()

	for i := range 4 {
		_, err := s.Append(ctx, "a", ledger.Any(), events("x"))
		assert.NoError(t, err)
		env, err, ok := fast()
		assert.True(t, ok)
		assert.NoError(t, err)
		assert.Equal(t, ledger.GlobalPosition(i+1), env.Position)
		if i == 0 {
			env, err, ok = slow()
			assert.True(t, ok)
			assert.NoError(t, err)
			assert.Equal(t, ledger.GlobalPosition(1), env.Position)
		}
	}

	_, err, ok := slow()
	assert.True(t, ok)
	assert.ErrorIs(t, err, ledger.ErrFellBehind)

	_, err = s.Append(ctx, "b", ledger.Any(), events("y"))
	assert.NoError(t, err)
	env, err, ok := fast()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(5), env.Position)
	assert.Equal(t, ledger.StreamID("b"), env.StreamID)
}

func TestLiveEndsOnClose(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	next, stop := iter.Pull2(s.Live(ctx, 0, false))
	defer stop()

	_, err := s.Append(ctx, "a", ledger.Any(), events("x"))
	assert.NoError(t, err)
	_, err, _ = next()
	assert.NoError(t, err)

	assert.NoError(t, s.Close())
	_, err, ok := next()
	assert.True(t, ok)
	assert.ErrorIs(t, err, memory.ErrClosed)

	_, err = s.Append(ctx, "a", ledger.Any(), events("y"))
	assert.ErrorIs(t, err, memory.ErrClosed)

	for _, err := range s.Live(ctx, 0, false) {
		assert.ErrorIs(t, err, memory.ErrClosed)
	}
}

func TestLiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStore(t, 0)

	done := make(chan error, 1)
	go func() {
		for _, err := range s.Live(ctx, 0, false) {
			done <- err
			return
		}
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("live feed ignored cancellation")
	}
}

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	cps := memory.NewCheckpointStore()

	_, ok, err := cps.LoadCheckpoint(ctx, "p")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, cps.SaveCheckpoint(ctx, "p", 7))
	assert.NoError(t, cps.SaveCheckpoint(ctx, "p", 9))

	pos, ok, err := cps.LoadCheckpoint(ctx, "p")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.GlobalPosition(9), pos)
	assert.Equal(t, []ledger.Checkpoint{{Name: "p", Position: 9}},
		cps.Checkpoints())
}
