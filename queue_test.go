package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/ledger"
)

func setTo(v int) func(*int) error {
	return func(slot *int) error {
		*slot = v
		return nil
	}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := ledger.NewArenaQueue[int](4, nil)
	assert.Equal(t, 4, q.Cap())

	go func() {
		defer q.Close()
		for i := range 100 {
			if err := q.Write(ctx, setTo(i)); err != nil {
				return
			}
		}
	}()

	var got []int
	for v := range q.ReadAll(ctx) {
		got = append(got, *v)
	}
	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueBackpressure(t *testing.T) {
	ctx := context.Background()
	q := ledger.NewArenaQueue[int](2, nil)

	assert.NoError(t, q.Write(ctx, setTo(1)))
	assert.NoError(t, q.Write(ctx, setTo(2)))
	assert.Equal(t, 2, q.Len())

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Write(ctx, setTo(3))
	}()

	select {
	case <-blocked:
		t.Fatal("write should block while every slot is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	var got []int
	for v := range q.ReadAll(ctx) {
		got = append(got, *v)
		break
	}

	select {
	case err := <-blocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write should resume once a slot is released")
	}

	for v := range q.ReadAll(ctx) {
		got = append(got, *v)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueueCancelledWrite(t *testing.T) {
	q := ledger.NewArenaQueue[int](1, nil)
	assert.NoError(t, q.Write(context.Background(), setTo(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Write(ctx, setTo(2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for v := range q.ReadAll(context.Background()) {
		assert.Equal(t, 1, *v)
		break
	}
	assert.NoError(t, q.Write(context.Background(), setTo(3)))
}

func TestQueuePopulateFailure(t *testing.T) {
	ctx := context.Background()
	q := ledger.NewArenaQueue[int](1, nil)
	boom := errors.New("boom")

	err := q.Write(ctx, func(*int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, q.Len())

	assert.NoError(t, q.Write(ctx, setTo(7)))
	for v := range q.ReadAll(ctx) {
		assert.Equal(t, 7, *v)
		break
	}
}

func TestQueueClose(t *testing.T) {
	ctx := context.Background()
	q := ledger.NewArenaQueue[int](3, nil)
	assert.NoError(t, q.Write(ctx, setTo(1)))
	assert.NoError(t, q.Write(ctx, setTo(2)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Write(ctx, setTo(3)), ledger.ErrQueueClosed)

	var got []int
	for v := range q.ReadAll(ctx) {
		got = append(got, *v)
	}
	assert.Equal(t, []int{1, 2}, got)
}

func TestQueueCloseUnblocksWriter(t *testing.T) {
	ctx := context.Background()
	q := ledger.NewArenaQueue[int](1, nil)
	assert.NoError(t, q.Write(ctx, setTo(1)))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Write(ctx, setTo(2))
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ledger.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("close should unblock a pending write")
	}
}

func TestQueueReadCancelled(t *testing.T) {
	q := ledger.NewArenaQueue[int](1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range q.ReadAll(ctx) {
			t.Error("nothing was written")
		}
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read should end when its context does")
	}
}

func TestQueueReadCancelledSkipsReadyItems(t *testing.T) {
	q := ledger.NewArenaQueue[int](1, nil)
	assert.NoError(t, q.Write(context.Background(), setTo(7)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 50 {
		for v := range q.ReadAll(ctx) {
			t.Fatalf("read yielded %d after its context ended", *v)
		}
	}

	wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
	defer wcancel()
	assert.NoError(t, q.Write(wctx, setTo(8)))
}

func TestQueueReusesSlots(t *testing.T) {
	type buf struct {
		data   []byte
		resets int
	}

	ctx := context.Background()
	q := ledger.NewArenaQueue(1, func(b *buf) {
		b.data = b.data[:0]
		b.resets++
	})

	var first *buf
	for i := range 3 {
		err := q.Write(ctx, func(b *buf) error {
			b.data = append(b.data, byte('a'+i))
			return nil
		})
		assert.NoError(t, err)
		for b := range q.ReadAll(ctx) {
			if first == nil {
				first = b
			}
			assert.Same(t, first, b)
			assert.Equal(t, []byte{byte('a' + i)}, b.data)
			assert.Equal(t, i+1, b.resets)
			break
		}
	}
}

func TestQueueMinimumCapacity(t *testing.T) {
	q := ledger.NewArenaQueue[int](0, nil)
	assert.Equal(t, 1, q.Cap())
}
