package redis_test

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/redis"
)

func newStore(t *testing.T) *redis.Store {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	cfg := redis.DefaultConfig()
	cfg.Addr = server.Addr()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.PageSize = 2
	cfg.PollInterval = 10 * time.Millisecond

	store, err := redis.NewStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
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
		require.NoError(t, err)
		res = append(res, env)
	}
	return res
}

func TestConnectFailure(t *testing.T) {
	cfg := redis.DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	_, err := redis.NewStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestAppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	res, err := s.Append(ctx, "a", ledger.NoStream(), events("x", "y", "z"))
	require.NoError(t, err)
	assert.Equal(t, &ledger.AppendResult{
		StreamID:      "a",
		FirstVersion:  0,
		LastVersion:   2,
		FirstPosition: 1,
		LastPosition:  3,
	}, res)

	res, err = s.Append(ctx, "b", ledger.Any(), events("w"))
	require.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(4), res.FirstPosition)

	res, err = s.Append(ctx, "a", ledger.Exact(2), events("v"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StreamVersion(3), res.LastVersion)
	assert.Equal(t, ledger.GlobalPosition(5), res.LastPosition)

	got := collect(t, s.ReadStream(ctx, "a", ledger.ReadForward()))
	require.Len(t, got, 4)
	for i, env := range got {
		assert.Equal(t, ledger.StreamVersion(i), env.Version)
		assert.Equal(t, ledger.StreamID("a"), env.StreamID)
	}
	assert.Equal(t, ledger.GlobalPosition(5), got[3].Position)
	assert.Equal(t, "v", got[3].Name)

	back := collect(t, s.ReadStream(ctx, "a", ledger.ReadOptions{
		From: ledger.StartEnd(), Direction: ledger.Backward, Limit: 2,
	}))
	require.Len(t, back, 2)
	assert.Equal(t, ledger.StreamVersion(3), back[0].Version)
	assert.Equal(t, ledger.StreamVersion(2), back[1].Version)

	log := collect(t, s.ReadLog(ctx, 1, true))
	require.Len(t, log, 4)
	assert.Equal(t, ledger.GlobalPosition(2), log[0].Position)
	assert.Equal(t, ledger.StreamID("b"), log[2].StreamID)
	assert.Equal(t, ledger.Zero, log[2].Version)

	head, ok, err := s.Head(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.GlobalPosition(5), head)
}

func TestAppendConflict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Append(ctx, "a", ledger.Exact(0), events("x"))
	var wev *ledger.WrongExpectedVersionError
	require.ErrorAs(t, err, &wev)
	assert.False(t, wev.Exists)

	_, err = s.Append(ctx, "a", ledger.Any(), events("x", "y"))
	require.NoError(t, err)

	_, err = s.Append(ctx, "a", ledger.NoStream(), events("z"))
	require.ErrorAs(t, err, &wev)
	assert.True(t, wev.Exists)
	assert.Equal(t, ledger.StreamVersion(1), wev.Actual)

	_, err = s.Append(ctx, "a", ledger.Exact(0), events("z"))
	assert.ErrorIs(t, err, ledger.ErrWrongExpectedVersion)

	head, _, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(2), head)

	_, err = s.Append(ctx, "", ledger.Any(), events("z"))
	assert.ErrorIs(t, err, ledger.ErrEmptyStreamID)
	_, err = s.Append(ctx, "a", ledger.Any(), nil)
	assert.ErrorIs(t, err, ledger.ErrNoEvents)
}

func TestReadMissing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, err := range s.ReadStream(ctx, "nope", ledger.ReadForward()) {
		assert.ErrorIs(t, err, ledger.ErrStreamNotFound)
	}
	_, ok, err := s.Head(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, collect(t, s.ReadLog(ctx, 0, false)))
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ev := ledger.NewWriteEnvelope("x", []byte(`{"a":1}`), []byte(`{"m":2}`))
	_, err := s.Append(ctx, "a", ledger.Any(), []*ledger.WriteEnvelope{ev})
	require.NoError(t, err)

	got := collect(t, s.ReadStream(ctx, "a", ledger.ReadForward()))
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, []byte(`{"a":1}`), got[0].Payload)
	assert.Equal(t, []byte(`{"m":2}`), got[0].Metadata)
}

func TestLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStore(t)

	_, err := s.Append(ctx, "a", ledger.Any(), events("x", "y"))
	require.NoError(t, err)

	next, stop := iter.Pull2(s.Live(ctx, 1, true))
	defer stop()

	env, err, ok := next()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(2), env.Position)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Append(context.Background(), "b", ledger.Any(), events("z"))
	}()

	env, err, ok = next()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, ledger.GlobalPosition(3), env.Position)
	assert.Equal(t, ledger.StreamID("b"), env.StreamID)
}

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cps := s.Checkpoints()

	_, ok, err := cps.LoadCheckpoint(ctx, "proj")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cps.SaveCheckpoint(ctx, "proj", 12))
	pos, ok, err := cps.LoadCheckpoint(ctx, "proj")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.GlobalPosition(12), pos)

	other := redis.NewCheckpointStore(s.Client(), "other")
	_, ok, err = other.LoadCheckpoint(ctx, "proj")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriptionOverRedis(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Append(ctx, "a", ledger.Any(), events("x", "y", "z"))
	require.NoError(t, err)

	seen := make(chan ledger.GlobalPosition, 16)
	cfg := ledger.DefaultSubscriptionConfig()
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Policy = ledger.EveryEvent()
	sub := ledger.NewSubscription(s,
		ledger.ConsumerFunc(func(
			_ context.Context, env *ledger.ReadEnvelope,
		) error {
			seen <- env.Position
			return nil
		}),
		ledger.NewCheckpointer("proj", s.Checkpoints()), cfg,
	)

	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	for want := ledger.GlobalPosition(1); want <= 3; want++ {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	_, err = s.Append(ctx, "a", ledger.Any(), events("w"))
	require.NoError(t, err)
	select {
	case got := <-seen:
		assert.Equal(t, ledger.GlobalPosition(4), got)
	case <-time.After(5 * time.Second):
		t.Fatal("live event not delivered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	pos, ok, err := s.Checkpoints().LoadCheckpoint(
		context.Background(), "proj",
	)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.GlobalPosition(4), pos)
}
